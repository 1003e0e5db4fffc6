package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms/internal/audit"
	"comms/internal/config"
	"comms/internal/domain"
	"comms/internal/identity"
	"comms/internal/ledger"
	"comms/internal/providers/fake"
	"comms/internal/store/memory"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	fakes map[domain.Channel]*fake.Provider
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	settings := config.DefaultSettings()
	reg, fakes := fake.Registry(domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp)

	require.NoError(t, st.SaveRecipient(ctx, domain.Recipient{ID: "rcp_ana", Name: "Ana", Email: "ana@example.com", PreferredLocale: "es-MX"}))
	require.NoError(t, st.SaveTemplate(ctx, domain.Template{
		ID: "tpl_1", Key: "welcome", Name: "Welcome", MessageType: domain.TypeTransactional, IsActive: true,
		EmailSubject: "Welcome {{.name}}", EmailBodyText: "Hello {{.name}}", SMSBody: "Hi {{.name}}",
	}))

	return fixture{
		svc: &Service{
			Templates:     st,
			Recipients:    st,
			Conversations: st,
			Identity:      &identity.Resolver{Profiles: st, Settings: settings},
			Registry:      reg,
			Ledger:        ledger.New(st, audit.Nop{}),
			Settings:      settings,
		},
		store: st,
		fakes: fakes,
	}
}

func TestSendTemplateEmail(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.Send(context.Background(), SendRequest{
		RecipientID: "rcp_ana", TemplateKey: "welcome", Context: map[string]any{"name": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, m.Channel)
	assert.Equal(t, domain.StatusSent, m.Status)
	assert.Equal(t, "Welcome Ana", m.Subject)
	assert.Equal(t, "Hello Ana", m.BodyText)
	assert.Equal(t, "ana@example.com", m.ToAddress)
	assert.Equal(t, "noreply@example.com", m.FromAddress)
	assert.Equal(t, "es", m.Locale)
	assert.Equal(t, "tpl_1", m.TemplateID)
	assert.Len(t, f.fakes[domain.ChannelEmail].Calls(), 1)
}

func TestSendOverridesWin(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.Send(context.Background(), SendRequest{
		RecipientID: "rcp_ana", TemplateKey: "welcome", Subject: "Literal subject",
		Context: map[string]any{"name": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Literal subject", m.Subject)
	assert.Equal(t, "Hello Ana", m.BodyText)
}

func TestSendUnknownTemplate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), SendRequest{RecipientID: "rcp_ana", TemplateKey: "nope"})
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
	assert.Empty(t, f.store.Messages())
}

func TestSendInvalidChannelIsRecorded(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.Send(context.Background(), SendRequest{RecipientID: "rcp_ana", Channel: "fax", BodyText: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)
	assert.NotEmpty(t, msgs[0].Error)
}

func TestSendMissingAddressNeverCallsProvider(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.Send(context.Background(), SendRequest{RecipientID: "rcp_ana", TemplateKey: "welcome", Channel: "sms"})
	assert.ErrorIs(t, err, domain.ErrInvalidRecipient)
	assert.Equal(t, domain.StatusFailed, m.Status)
	assert.Empty(t, f.fakes[domain.ChannelSMS].Calls())
}

func TestSendUnavailableChannel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), SendRequest{RecipientID: "rcp_ana", Channel: "push", BodyText: "x"})
	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)
}

func TestSendProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.fakes[domain.ChannelEmail].Fail = true
	m, err := f.svc.Send(context.Background(), SendRequest{RecipientID: "rcp_ana", TemplateKey: "welcome"})
	assert.ErrorIs(t, err, domain.ErrProviderFailure)
	assert.Equal(t, domain.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "rejected")
}

func TestSendWithoutContent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), SendRequest{RecipientID: "rcp_ana"})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestSendTouchesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertConversation(ctx, domain.Conversation{
		ID: "conv_1", Kind: domain.KindDirect, Status: domain.ConversationActive, CreatedAt: time.Now().Add(-time.Hour),
	}))

	m, err := f.svc.Send(ctx, SendRequest{RecipientID: "rcp_ana", BodyText: "ping", ConversationID: "conv_1", Channel: "sms"})
	assert.Error(t, err)

	conv, err := f.store.GetConversation(ctx, "conv_1")
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, conv.LastMessageAt.Equal(m.CreatedAt))
	assert.Equal(t, domain.ChannelSMS, conv.PrimaryChannel)
}
