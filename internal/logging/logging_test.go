package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceHandlerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithFields(context.Background(), "message_id", "msg_1")
	ctx = WithFields(ctx, "channel", "sms")
	logger.InfoContext(ctx, "sent")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "msg_1", rec["message_id"])
	assert.Equal(t, "sms", rec["channel"])
	assert.NotContains(t, rec, "trace_id")
}
