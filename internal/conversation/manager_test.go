package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms/internal/audit"
	"comms/internal/domain"
	"comms/internal/ledger"
	"comms/internal/providers/fake"
	"comms/internal/store/memory"
)

type fixture struct {
	m     *Manager
	store *memory.Store
	audit *audit.Recorder
	clock *clock
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	rec := &audit.Recorder{}
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	reg, _ := fake.Registry(domain.ChannelInApp)
	l := ledger.New(st, rec)
	l.Now = clk.now

	for _, r := range []domain.Recipient{
		{ID: "ana", Name: "Ana", Email: "ana@example.com"},
		{ID: "sam", Name: "Sam", Email: "sam@example.com", Staff: true},
		{ID: "bo", Name: "Bo", Email: "bo@example.com"},
	} {
		require.NoError(t, st.SaveRecipient(ctx, r))
	}
	return fixture{
		m:     &Manager{Store: st, Ledger: l, Registry: reg, Audit: rec, Now: clk.now},
		store: st,
		audit: rec,
		clock: clk,
	}
}

func TestEnsureParticipantIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.m.Create(ctx, CreateRequest{Subject: "Trip"})
	require.NoError(t, err)

	first, err := f.m.EnsureParticipant(ctx, conv.ID, "ana", domain.RoleCustomer)
	require.NoError(t, err)
	second, err := f.m.EnsureParticipant(ctx, conv.ID, "ana", domain.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	all, err := f.store.ListParticipants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, domain.RoleCustomer, all[0].Role)
	assert.Equal(t, []string{audit.ConversationCreated, audit.ParticipantAdded}, f.audit.Types())
}

func TestCreateStampsNormalizedSubject(t *testing.T) {
	f := newFixture(t)
	conv, err := f.m.Create(context.Background(), CreateRequest{
		Subject: "Re: Fwd: Booking", Members: []Member{{PersonID: "ana"}, {PersonID: "sam", Role: domain.RoleStaff}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Booking", conv.NormalizedSubject)
	assert.Equal(t, domain.KindDirect, conv.Kind)

	p, err := f.store.GetParticipant(context.Background(), conv.ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, p.Role)
}

func TestGetOrCreateForRelated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := domain.RelatedRef{Type: "booking", ID: "BK-1"}

	conv, created, err := f.m.GetOrCreateForRelated(ctx, ref, []Member{{PersonID: "ana"}}, "Booking BK-1")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.m.GetOrCreateForRelated(ctx, ref, []Member{{PersonID: "sam", Role: domain.RoleStaff}}, "ignored")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	ps, _ := f.store.ListParticipants(ctx, conv.ID)
	assert.Len(t, ps, 2)

	_, err = f.m.Close(ctx, conv.ID, "sam")
	require.NoError(t, err)
	fresh, created, err := f.m.GetOrCreateForRelated(ctx, ref, nil, "Booking BK-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, fresh.ID)
}

func TestSendInConversationDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.m.Create(ctx, CreateRequest{Subject: "Trip", Members: []Member{{PersonID: "sam", Role: domain.RoleStaff}}})
	require.NoError(t, err)

	in, err := f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "ana", BodyText: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionInbound, in.Direction)
	assert.Equal(t, domain.StatusDelivered, in.Status)
	assert.Equal(t, "ana@example.com", in.FromAddress)

	out, err := f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "sam", BodyText: "Hi Ana"})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOutbound, out.Direction)
	assert.Equal(t, domain.StatusDelivered, out.Status)
	assert.Equal(t, domain.ChannelInApp, out.Channel)

	// the sender was added as a customer
	p, err := f.store.GetParticipant(ctx, conv.ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, p.Role)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageAt)
	assert.True(t, stored.LastMessageAt.Equal(out.CreatedAt))
	assert.Equal(t, domain.ChannelInApp, stored.PrimaryChannel)

	_, err = f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "sam", BodyText: "x", Channel: "sms"})
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)
	_, err = f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "sam", BodyText: "x", Channel: "telex"})
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)
}

func TestUnreadCounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.m.Create(ctx, CreateRequest{Subject: "Trip", Members: []Member{{PersonID: "ana"}, {PersonID: "sam", Role: domain.RoleStaff}}})
	require.NoError(t, err)

	for _, body := range []string{"one", "two"} {
		_, err := f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "sam", BodyText: body})
		require.NoError(t, err)
	}
	_, err = f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "ana", BodyText: "mine"})
	require.NoError(t, err)

	// ana's reply marked her read, which covers sam's earlier messages
	n, err := f.m.UnreadCount(ctx, conv.ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.m.UnreadCount(ctx, conv.ID, "sam")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "sam", BodyText: "three"})
	require.NoError(t, err)
	n, _ = f.m.UnreadCount(ctx, conv.ID, "ana")
	assert.Equal(t, 1, n)

	inbox, err := f.m.Inbox(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, conv.ID, inbox[0].Conversation.ID)
	assert.Equal(t, 1, inbox[0].Unread)

	require.NoError(t, f.m.MarkRead(ctx, conv.ID, "ana", nil))
	n, _ = f.m.UnreadCount(ctx, conv.ID, "ana")
	assert.Equal(t, 0, n)

	n, err = f.m.UnreadCount(ctx, conv.ID, "stranger")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFindOrCreateByThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, created, err := f.m.FindOrCreateByThread(ctx, ThreadRequest{
		FromAddress: "ana@example.com", Subject: "Dive plan", ThreadID: "<m1@mail>", SenderID: "ana",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Dive plan", conv.NormalizedSubject)
	assert.Equal(t, "<m1@mail>", conv.ThreadID)
	assert.Equal(t, domain.ChannelEmail, conv.PrimaryChannel)

	byThread, created, err := f.m.FindOrCreateByThread(ctx, ThreadRequest{ThreadID: "<m1@mail>", Subject: "unrelated"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, byThread.ID)

	bySubject, created, err := f.m.FindOrCreateByThread(ctx, ThreadRequest{
		FromAddress: "ANA@example.com", Subject: "Re: [list] Dive plan", ThreadID: "<other@mail>",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, bySubject.ID)

	other, created, err := f.m.FindOrCreateByThread(ctx, ThreadRequest{FromAddress: "bo@example.com", Subject: "Re: Dive plan", SenderID: "bo"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, other.ID)

	// closed conversations no longer match by thread id or subject
	_, err = f.m.Close(ctx, conv.ID, "sam")
	require.NoError(t, err)
	reopened, created, err := f.m.FindOrCreateByThread(ctx, ThreadRequest{ThreadID: "<m1@mail>", Subject: "Dive plan", SenderID: "ana"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, reopened.ID)
	assert.Equal(t, "<m1@mail>", reopened.ThreadID)

	// the replacement now owns the thread
	again, created, err := f.m.FindOrCreateByThread(ctx, ThreadRequest{ThreadID: "<m1@mail>"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, reopened.ID, again.ID)

	_, err = f.m.Archive(ctx, reopened.ID, "sam")
	require.NoError(t, err)
	_, created, err = f.m.FindOrCreateByThread(ctx, ThreadRequest{FromAddress: "ana@example.com", Subject: "Dive plan"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.m.Create(ctx, CreateRequest{Subject: "Trip"})
	require.NoError(t, err)

	closed, err := f.m.Close(ctx, conv.ID, "sam")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, "sam", closed.ClosedBy)

	archived, err := f.m.Archive(ctx, conv.ID, "sam")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationArchived, archived.Status)

	reopened, err := f.m.Reopen(ctx, conv.ID, "sam")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationActive, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
	assert.Empty(t, reopened.ClosedBy)

	assert.Subset(t, f.audit.Types(), []string{audit.ConversationClosed, audit.ConversationArchived, audit.ConversationReopened})
}

func TestMessagesPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.m.Create(ctx, CreateRequest{Subject: "Trip"})
	require.NoError(t, err)

	var sent []domain.Message
	for _, body := range []string{"a", "b", "c", "d"} {
		m, err := f.m.SendInConversation(ctx, SendRequest{ConversationID: conv.ID, SenderID: "ana", BodyText: body})
		require.NoError(t, err)
		sent = append(sent, m)
	}

	last2, err := f.m.Messages(ctx, conv.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "c", last2[0].BodyText)
	assert.Equal(t, "d", last2[1].BodyText)

	older, err := f.m.Messages(ctx, conv.ID, 10, &sent[2].CreatedAt)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "a", older[0].BodyText)
}
