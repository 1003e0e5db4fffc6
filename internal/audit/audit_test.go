package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type memSink struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (m *memSink) Write(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.got = append(m.got, ev)
	return nil
}

func TestAsyncForwardsToEverySink(t *testing.T) {
	a, b := &memSink{}, &memSink{fail: true}
	em := NewAsync(8, a, b)

	em.Emit(context.Background(), Event{Type: MessageSent, MessageID: "msg_1"})
	em.Emit(context.Background(), Event{Type: MessageFailed, MessageID: "msg_2"})
	em.Close()

	assert.Len(t, a.got, 2)
	assert.Equal(t, MessageSent, a.got[0].Type)
	assert.False(t, a.got[0].At.IsZero())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit(context.Background(), Event{Type: ConversationCreated})
	r.Emit(context.Background(), Event{Type: ParticipantAdded})
	assert.Equal(t, []string{ConversationCreated, ParticipantAdded}, r.Types())
}
