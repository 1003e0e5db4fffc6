package delivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms/internal/audit"
	"comms/internal/domain"
	"comms/internal/ledger"
	sqsqueue "comms/internal/queue/sqs"
	"comms/internal/store/memory"
)

func seed(t *testing.T, st *memory.Store, id, provider, pmid string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.InsertMessage(context.Background(), domain.Message{
		ID: id, Direction: domain.DirectionOutbound, Channel: domain.ChannelEmail, Status: domain.StatusSent,
		Provider: provider, ProviderMessageID: pmid, SentAt: &now, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestHandleSNSWrappedBounce(t *testing.T) {
	st := memory.New()
	seed(t, st, "msg_1", "ses", "ses-abc")
	p := &Processor{Ledger: ledger.New(st, audit.Nop{})}

	inner := `{"eventType":"Bounce","mail":{"messageId":"ses-abc"},"bounce":{"bounceType":"Permanent","bounceSubType":"General"}}`
	env, err := json.Marshal(map[string]string{"Type": "Notification", "Message": inner})
	require.NoError(t, err)

	require.NoError(t, p.Handle(context.Background(), env))
	m, err := st.GetMessage(context.Background(), "msg_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBounced, m.Status)
	assert.Equal(t, "Permanent/General", m.Error)
}

func TestHandleForwardedTwilioEvent(t *testing.T) {
	st := memory.New()
	seed(t, st, "msg_2", "twilio", "SM1")
	p := &Processor{Ledger: ledger.New(st, audit.Nop{})}

	body, err := json.Marshal(sqsqueue.DeliveryEvent{Provider: "twilio", ProviderMsgID: "SM1", Status: "delivered"})
	require.NoError(t, err)
	require.NoError(t, p.Handle(context.Background(), body))

	m, err := st.GetMessage(context.Background(), "msg_2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, m.Status)
}

func TestHandleClassifiesFailures(t *testing.T) {
	p := &Processor{Ledger: ledger.New(memory.New(), audit.Nop{})}

	err := p.Handle(context.Background(), []byte("not json"))
	assert.ErrorIs(t, err, sqsqueue.ErrPoison)

	body, _ := json.Marshal(sqsqueue.DeliveryEvent{Provider: "twilio", ProviderMsgID: "SM404", Status: "delivered"})
	err = p.Handle(context.Background(), body)
	require.Error(t, err)
	assert.NotErrorIs(t, err, sqsqueue.ErrPoison)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ignored := `{"eventType":"Open","mail":{"messageId":"ses-x"}}`
	assert.NoError(t, p.Handle(context.Background(), []byte(ignored)))
}
