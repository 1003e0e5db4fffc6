package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms/internal/domain"
)

func TestValidEmail(t *testing.T) {
	for addr, want := range map[string]bool{
		"ana@example.com":   true,
		"a.b@mail.co.uk":    true,
		"ana@localhost":     false,
		"ana.example.com":   false,
		"@example.com":      false,
		"ana@":              false,
		"ana@example.":      false,
		" ana@example.com ": true,
	} {
		assert.Equal(t, want, ValidEmail(addr), addr)
	}
}

func TestValidPhone(t *testing.T) {
	for num, want := range map[string]bool{
		"+15551234567":    true,
		"5551234567":      true,
		"+1 555 123 4567": true,
		"+123456789":      false,
		"555-1234":        false,
		"+1555abc4567":    false,
	} {
		assert.Equal(t, want, ValidPhone(num), num)
	}
}

func TestValidPushEndpoint(t *testing.T) {
	assert.True(t, ValidPushEndpoint("https://fcm.googleapis.com/fcm/send/abc"))
	assert.False(t, ValidPushEndpoint("http://fcm.googleapis.com/fcm/send/abc"))
	assert.False(t, ValidPushEndpoint("not a url"))
}

func TestSegments(t *testing.T) {
	assert.Equal(t, 0, Segments(""))
	assert.Equal(t, 1, Segments("hi"))
	assert.Equal(t, 1, Segments(string(make([]byte, 160))))
	assert.Equal(t, 2, Segments(string(make([]byte, 161))))
}

func TestConsoleAlwaysSucceeds(t *testing.T) {
	c := NewConsole(domain.ChannelSMS)
	res, err := c.Send(context.Background(), domain.Message{ID: "msg_1", ToAddress: "+15551234567", BodyText: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "console", res.Provider)
	assert.NotEmpty(t, res.ProviderMessageID)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.For(domain.ChannelEmail)
	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)

	r.Register(NewConsole(domain.ChannelEmail))
	r.Register(&stubProvider{name: "ses", ch: domain.ChannelEmail})

	p, err := r.For(domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "console", p.Name())

	require.NoError(t, r.Activate(domain.ChannelEmail, "ses"))
	p, err = r.For(domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "ses", p.Name())

	assert.ErrorIs(t, r.Activate(domain.ChannelSMS, "twilio"), domain.ErrChannelUnavailable)
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, r.Channels())
}

type stubProvider struct {
	name  string
	ch    domain.Channel
	block time.Duration
	err   error
	panic bool
	calls int
}

func (s *stubProvider) Name() string                  { return s.name }
func (s *stubProvider) Channel() domain.Channel       { return s.ch }
func (s *stubProvider) ValidateRecipient(string) bool { return true }

func (s *stubProvider) Send(ctx context.Context, msg domain.Message) (domain.SendResult, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	if s.block > 0 {
		time.Sleep(s.block)
	}
	if s.err != nil {
		return domain.SendResult{Provider: s.name, Error: s.err.Error()}, s.err
	}
	return domain.SendResult{Success: true, Provider: s.name, ProviderMessageID: "p-1"}, nil
}

func TestGuardTimeout(t *testing.T) {
	g := NewGuard(&stubProvider{name: "slow", ch: domain.ChannelEmail, block: 200 * time.Millisecond},
		GuardOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	res, err := g.Send(context.Background(), domain.Message{ID: "m"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, res.Success)
	assert.Equal(t, "slow", res.Provider)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestGuardRecoversPanic(t *testing.T) {
	g := NewGuard(&stubProvider{name: "bad", ch: domain.ChannelSMS, panic: true}, GuardOptions{Timeout: time.Second})
	_, err := g.Send(context.Background(), domain.Message{ID: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestGuardOpensCircuit(t *testing.T) {
	stub := &stubProvider{name: "flaky", ch: domain.ChannelSMS, err: errors.New("503")}
	g := NewGuard(stub, GuardOptions{Timeout: time.Second, ConsecutiveFailures: 2, OpenFor: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := g.Send(context.Background(), domain.Message{ID: "m"})
		require.Error(t, err)
	}
	_, err := g.Send(context.Background(), domain.Message{ID: "m"})
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, stub.calls)
}
