// Package conversation threads messages into conversations and keeps
// participant membership and read state.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"comms/internal/audit"
	"comms/internal/domain"
	"comms/internal/ledger"
	"comms/internal/providers"
	"comms/internal/store"
	"comms/internal/util"
)

type Manager struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Registry *providers.Registry
	Audit    audit.Emitter
	Now      func() time.Time
}

// Member is a person added to a new conversation.
type Member struct {
	PersonID string      `json:"personId"`
	Role     domain.Role `json:"role"`
}

type CreateRequest struct {
	Subject        string
	Members        []Member
	Related        *domain.RelatedRef
	PrimaryChannel domain.Channel
	CreatedBy      string
	ThreadID       string
}

// Create inserts a direct conversation and its participants in one
// transaction.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (domain.Conversation, error) {
	now := m.now()
	conv := domain.Conversation{
		ID:                util.NewID(util.PrefixConversation),
		Kind:              domain.KindDirect,
		Subject:           req.Subject,
		NormalizedSubject: NormalizeSubject(req.Subject),
		Status:            domain.ConversationActive,
		PrimaryChannel:    req.PrimaryChannel,
		ThreadID:          req.ThreadID,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if !req.Related.Empty() {
		conv.Related = req.Related
	}

	var added []domain.Participant
	err := m.Store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.InsertConversation(ctx, conv); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for _, mem := range req.Members {
			p, created, err := ensure(ctx, tx, conv.ID, mem.PersonID, mem.Role, now)
			if err != nil {
				return err
			}
			if created {
				added = append(added, p)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}

	m.emit(ctx, audit.Event{Type: audit.ConversationCreated, ConversationID: conv.ID, PersonID: req.CreatedBy})
	for _, p := range added {
		m.emit(ctx, audit.Event{Type: audit.ParticipantAdded, ConversationID: conv.ID, PersonID: p.PersonID, Status: string(p.Role)})
	}
	return conv, nil
}

// GetOrCreateForRelated returns the active conversation linked to ref,
// creating one when none exists. Members are ensured either way.
func (m *Manager) GetOrCreateForRelated(ctx context.Context, ref domain.RelatedRef, members []Member, subject string) (domain.Conversation, bool, error) {
	if ref.Empty() {
		return domain.Conversation{}, false, fmt.Errorf("%w: related reference is empty", domain.ErrInvalidState)
	}
	conv, err := m.Store.FindConversationByRelated(ctx, ref)
	switch {
	case err == nil:
		for _, mem := range members {
			if _, err := m.EnsureParticipant(ctx, conv.ID, mem.PersonID, mem.Role); err != nil {
				return conv, false, err
			}
		}
		return conv, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return conv, false, err
	}

	conv, err = m.Create(ctx, CreateRequest{Subject: subject, Members: members, Related: &ref})
	return conv, err == nil, err
}

// EnsureParticipant adds person to the conversation once. Later calls
// return the stored row unchanged. The default role is customer.
func (m *Manager) EnsureParticipant(ctx context.Context, conversationID, personID string, role domain.Role) (domain.Participant, error) {
	p, created, err := ensure(ctx, m.Store, conversationID, personID, role, m.now())
	if err != nil {
		return p, err
	}
	if created {
		m.emit(ctx, audit.Event{Type: audit.ParticipantAdded, ConversationID: conversationID, PersonID: personID, Status: string(p.Role)})
	}
	return p, nil
}

func ensure(ctx context.Context, s store.ParticipantStore, conversationID, personID string, role domain.Role, now time.Time) (domain.Participant, bool, error) {
	if personID == "" {
		return domain.Participant{}, false, fmt.Errorf("%w: participant without person", domain.ErrInvalidState)
	}
	if role == "" {
		role = domain.RoleCustomer
	}
	joined := now
	p, created, err := s.EnsureParticipant(ctx, domain.Participant{
		ID:                   util.NewID(util.PrefixParticipant),
		ConversationID:       conversationID,
		PersonID:             personID,
		Role:                 role,
		State:                domain.ParticipantActive,
		JoinedAt:             &joined,
		NotificationsEnabled: true,
		CreatedAt:            now,
	})
	if err != nil {
		return p, false, fmt.Errorf("ensure participant %s: %w", personID, err)
	}
	return p, created, nil
}

type SendRequest struct {
	ConversationID string
	SenderID       string
	Subject        string
	BodyText       string
	BodyHTML       string
	// Channel defaults to in_app.
	Channel string
	// Direction defaults from the sender's role.
	Direction domain.Direction
}

// SendInConversation adds a message from a participant. Group conversations
// only accept active participants. In a direct conversation the sender is
// added as a customer when missing and rejected once removed.
//
// Inbound messages are recorded as received. Outbound messages must use the
// in_app channel; they pass through the ledger and are delivered on the spot.
func (m *Manager) SendInConversation(ctx context.Context, req SendRequest) (domain.Message, error) {
	ch := domain.ChannelInApp
	if req.Channel != "" {
		parsed, ok := domain.ParseChannel(req.Channel)
		if !ok {
			return domain.Message{}, fmt.Errorf("%w: %q", domain.ErrInvalidChannel, req.Channel)
		}
		ch = parsed
	}

	conv, err := m.Store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}

	var sender domain.Participant
	if conv.IsGroup() {
		sender, err = m.Store.GetParticipant(ctx, conv.ID, req.SenderID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !sender.Active()) {
			return domain.Message{}, fmt.Errorf("%w: %s cannot send in %s", domain.ErrPermissionDenied, req.SenderID, conv.ID)
		}
		if err != nil {
			return domain.Message{}, err
		}
	} else {
		sender, err = m.EnsureParticipant(ctx, conv.ID, req.SenderID, domain.RoleCustomer)
		if err != nil {
			return domain.Message{}, err
		}
		if sender.State == domain.ParticipantRemoved {
			return domain.Message{}, fmt.Errorf("%w: %s was removed from %s", domain.ErrPermissionDenied, req.SenderID, conv.ID)
		}
	}

	dir := req.Direction
	if dir == "" {
		dir = domain.DirectionInbound
		if sender.Role.SendsOutbound() {
			dir = domain.DirectionOutbound
		}
	}

	msg := domain.Message{
		Channel:        ch,
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		FromAddress:    m.senderAddress(ctx, req.SenderID),
		Subject:        req.Subject,
		BodyText:       req.BodyText,
		BodyHTML:       req.BodyHTML,
	}

	switch dir {
	case domain.DirectionInbound:
		msg, err = m.Ledger.RecordInbound(ctx, msg)
	case domain.DirectionOutbound:
		msg, err = m.deliverInApp(ctx, msg)
	default:
		return domain.Message{}, fmt.Errorf("%w: direction %q", domain.ErrInvalidState, dir)
	}
	if err != nil {
		return msg, err
	}

	if err := m.Store.TouchConversation(ctx, conv.ID, msg.CreatedAt, ch); err != nil {
		slog.WarnContext(ctx, "conversation touch failed", "conversation_id", conv.ID, "message_id", msg.ID, "err", err)
	}
	if err := m.Store.MarkRead(ctx, conv.ID, req.SenderID, m.now()); err != nil {
		slog.WarnContext(ctx, "mark read failed", "conversation_id", conv.ID, "err", err)
	}
	return msg, nil
}

func (m *Manager) deliverInApp(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.Channel != domain.ChannelInApp {
		return msg, fmt.Errorf("%w: outbound %s messages go through the send path with a conversation id", domain.ErrInvalidChannel, msg.Channel)
	}
	p, err := m.Registry.For(domain.ChannelInApp)
	if err != nil {
		return msg, err
	}
	msg.ToAddress = "in_app"
	msg, err = m.Ledger.Send(ctx, msg, p)
	if err != nil {
		return msg, err
	}
	return m.Ledger.MarkDelivered(ctx, msg.ID)
}

func (m *Manager) senderAddress(ctx context.Context, personID string) string {
	r, err := m.Store.GetRecipient(ctx, personID)
	if err == nil && strings.TrimSpace(r.Email) != "" {
		return r.Email
	}
	return personID
}

// MarkRead sets the participant's read marker to at, or now when nil.
func (m *Manager) MarkRead(ctx context.Context, conversationID, personID string, at *time.Time) error {
	t := m.now()
	if at != nil {
		t = at.UTC()
	}
	return m.Store.MarkRead(ctx, conversationID, personID, t)
}

// UnreadCount counts messages not sent by the person created after their
// read marker. Non-participants have nothing unread.
func (m *Manager) UnreadCount(ctx context.Context, conversationID, personID string) (int, error) {
	p, err := m.Store.GetParticipant(ctx, conversationID, personID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Store.CountUnread(ctx, conversationID, personID, p.LastReadAt)
}

type ThreadRequest struct {
	FromAddress string
	Subject     string
	ThreadID    string
	SenderID    string
	Channel     domain.Channel
	Related     *domain.RelatedRef
}

// FindOrCreateByThread resolves the conversation for an inbound channel
// message among active conversations: by external thread id, then by
// normalized subject plus a participant with the sender's address, else a new
// conversation. A reply to a closed thread opens a new conversation.
func (m *Manager) FindOrCreateByThread(ctx context.Context, req ThreadRequest) (domain.Conversation, bool, error) {
	normalized := NormalizeSubject(req.Subject)

	if req.ThreadID != "" {
		conv, err := m.Store.FindConversationByThreadID(ctx, req.ThreadID)
		if err == nil {
			return conv, false, m.ensureSender(ctx, conv.ID, req.SenderID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return conv, false, err
		}
	}

	if req.FromAddress != "" && normalized != "" {
		conv, err := m.Store.FindConversationBySubjectAndAddress(ctx, normalized, req.FromAddress)
		if err == nil {
			return conv, false, m.ensureSender(ctx, conv.ID, req.SenderID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return conv, false, err
		}
	}

	ch := req.Channel
	if ch == "" {
		ch = domain.ChannelEmail
	}
	var members []Member
	if req.SenderID != "" {
		members = append(members, Member{PersonID: req.SenderID, Role: domain.RoleCustomer})
	}
	conv, err := m.Create(ctx, CreateRequest{
		Subject:        req.Subject,
		Members:        members,
		Related:        req.Related,
		PrimaryChannel: ch,
		ThreadID:       req.ThreadID,
	})
	return conv, err == nil, err
}

func (m *Manager) ensureSender(ctx context.Context, conversationID, personID string) error {
	if personID == "" {
		return nil
	}
	_, err := m.EnsureParticipant(ctx, conversationID, personID, domain.RoleCustomer)
	return err
}

// Touch records a new message on the conversation.
func (m *Manager) Touch(ctx context.Context, msg domain.Message) error {
	if msg.ConversationID == "" {
		return nil
	}
	return m.Store.TouchConversation(ctx, msg.ConversationID, msg.CreatedAt, msg.Channel)
}

func (m *Manager) Close(ctx context.Context, conversationID, by string) (domain.Conversation, error) {
	now := m.now()
	return m.setStatus(ctx, store.ConversationStatusUpdate{
		ID: conversationID, Status: domain.ConversationClosed, ClosedAt: &now, ClosedBy: by, Now: now,
	}, audit.ConversationClosed, by)
}

func (m *Manager) Archive(ctx context.Context, conversationID, by string) (domain.Conversation, error) {
	conv, err := m.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return conv, err
	}
	return m.setStatus(ctx, store.ConversationStatusUpdate{
		ID: conversationID, Status: domain.ConversationArchived, ClosedAt: conv.ClosedAt, ClosedBy: conv.ClosedBy, Now: m.now(),
	}, audit.ConversationArchived, by)
}

// Reopen makes a closed or archived conversation active and clears the
// close stamp.
func (m *Manager) Reopen(ctx context.Context, conversationID, by string) (domain.Conversation, error) {
	return m.setStatus(ctx, store.ConversationStatusUpdate{
		ID: conversationID, Status: domain.ConversationActive, Now: m.now(),
	}, audit.ConversationReopened, by)
}

func (m *Manager) setStatus(ctx context.Context, up store.ConversationStatusUpdate, event, by string) (domain.Conversation, error) {
	if err := m.Store.SetConversationStatus(ctx, up); err != nil {
		return domain.Conversation{}, err
	}
	m.emit(ctx, audit.Event{Type: event, ConversationID: up.ID, PersonID: by, Status: string(up.Status)})
	return m.Store.GetConversation(ctx, up.ID)
}

// Messages returns up to limit messages created before the cursor, oldest
// first.
func (m *Manager) Messages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]domain.Message, error) {
	msgs, err := m.Store.ListConversationMessages(ctx, store.MessagePage{
		ConversationID: conversationID,
		Limit:          limit,
		Before:         before,
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

type InboxEntry struct {
	Conversation domain.Conversation `json:"conversation"`
	Unread       int                 `json:"unread"`
}

// Inbox lists the person's conversations, most recent activity first.
func (m *Manager) Inbox(ctx context.Context, personID string) ([]InboxEntry, error) {
	convs, err := m.Store.ListConversationsForPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	out := make([]InboxEntry, 0, len(convs))
	for _, c := range convs {
		n, err := m.UnreadCount(ctx, c.ID, personID)
		if err != nil {
			return nil, err
		}
		out = append(out, InboxEntry{Conversation: c, Unread: n})
	}
	return out, nil
}

func (m *Manager) emit(ctx context.Context, ev audit.Event) {
	if m.Audit == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	m.Audit.Emit(ctx, ev)
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return util.NowUTC()
}
