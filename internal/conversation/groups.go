package conversation

import (
	"context"
	"errors"
	"fmt"

	"comms/internal/audit"
	"comms/internal/domain"
	"comms/internal/store"
	"comms/internal/util"
)

// CreateGroup starts a group conversation. The creator is its active owner;
// members start out invited.
func (m *Manager) CreateGroup(ctx context.Context, title, creatorID string, memberIDs []string) (domain.Conversation, error) {
	if creatorID == "" {
		return domain.Conversation{}, fmt.Errorf("%w: group without creator", domain.ErrInvalidState)
	}
	now := m.now()
	conv := domain.Conversation{
		ID:             util.NewID(util.PrefixConversation),
		Kind:           domain.KindGroup,
		Title:          title,
		Subject:        title,
		Status:         domain.ConversationActive,
		PrimaryChannel: domain.ChannelInApp,
		CreatedBy:      creatorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	conv.NormalizedSubject = NormalizeSubject(title)

	var invited []string
	err := m.Store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.InsertConversation(ctx, conv); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		if _, _, err := ensure(ctx, tx, conv.ID, creatorID, domain.RoleOwner, now); err != nil {
			return err
		}
		for _, id := range memberIDs {
			if id == "" || id == creatorID {
				continue
			}
			_, created, err := tx.EnsureParticipant(ctx, domain.Participant{
				ID:                   util.NewID(util.PrefixParticipant),
				ConversationID:       conv.ID,
				PersonID:             id,
				Role:                 domain.RoleMember,
				State:                domain.ParticipantInvited,
				InvitedBy:            creatorID,
				NotificationsEnabled: true,
				CreatedAt:            now,
			})
			if err != nil {
				return fmt.Errorf("invite %s: %w", id, err)
			}
			if created {
				invited = append(invited, id)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}

	m.emit(ctx, audit.Event{Type: audit.ConversationCreated, ConversationID: conv.ID, PersonID: creatorID})
	for _, id := range invited {
		m.emit(ctx, audit.Event{Type: audit.ParticipantInvited, ConversationID: conv.ID, PersonID: id})
	}
	return conv, nil
}

// Invite asks person to join a group. Only owners and admins may invite.
// People who left or were removed are invited again; active or pending
// members are returned as they are.
func (m *Manager) Invite(ctx context.Context, conversationID, actorID, personID string, role domain.Role) (domain.Participant, error) {
	if _, err := m.group(ctx, conversationID); err != nil {
		return domain.Participant{}, err
	}
	if err := m.requireManager(ctx, conversationID, actorID); err != nil {
		return domain.Participant{}, err
	}
	if role == "" {
		role = domain.RoleMember
	}
	if role == domain.RoleOwner {
		return domain.Participant{}, fmt.Errorf("%w: a group has one owner", domain.ErrInvalidState)
	}

	now := m.now()
	p, created, err := m.Store.EnsureParticipant(ctx, domain.Participant{
		ID:                   util.NewID(util.PrefixParticipant),
		ConversationID:       conversationID,
		PersonID:             personID,
		Role:                 role,
		State:                domain.ParticipantInvited,
		InvitedBy:            actorID,
		NotificationsEnabled: true,
		CreatedAt:            now,
	})
	if err != nil {
		return p, err
	}
	if !created {
		if p.State != domain.ParticipantLeft && p.State != domain.ParticipantRemoved {
			return p, nil
		}
		p.State = domain.ParticipantInvited
		p.Role = role
		p.InvitedBy = actorID
		p.LeftAt = nil
		if err := m.Store.UpdateParticipant(ctx, p); err != nil {
			return p, err
		}
	}
	m.emit(ctx, audit.Event{Type: audit.ParticipantInvited, ConversationID: conversationID, PersonID: personID})
	return p, nil
}

// AcceptInvite activates a pending invitation.
func (m *Manager) AcceptInvite(ctx context.Context, conversationID, personID string) (domain.Participant, error) {
	p, err := m.Store.GetParticipant(ctx, conversationID, personID)
	if errors.Is(err, store.ErrNotFound) {
		return p, fmt.Errorf("%w: %s has no invitation", domain.ErrInvalidState, personID)
	}
	if err != nil {
		return p, err
	}
	if p.State == domain.ParticipantActive {
		return p, nil
	}
	if p.State != domain.ParticipantInvited {
		return p, fmt.Errorf("%w: %s has no pending invitation", domain.ErrInvalidState, personID)
	}
	now := m.now()
	p.State = domain.ParticipantActive
	p.JoinedAt = &now
	if err := m.Store.UpdateParticipant(ctx, p); err != nil {
		return p, err
	}
	m.emit(ctx, audit.Event{Type: audit.ParticipantJoined, ConversationID: conversationID, PersonID: personID})
	return p, nil
}

// Remove takes a member out of a group. The owner cannot be removed.
func (m *Manager) Remove(ctx context.Context, conversationID, actorID, personID string) (domain.Participant, error) {
	if _, err := m.group(ctx, conversationID); err != nil {
		return domain.Participant{}, err
	}
	if err := m.requireManager(ctx, conversationID, actorID); err != nil {
		return domain.Participant{}, err
	}
	return m.depart(ctx, conversationID, personID, domain.ParticipantRemoved, audit.ParticipantRemoved, actorID)
}

// Leave lets a member exit a group. The owner cannot leave.
func (m *Manager) Leave(ctx context.Context, conversationID, personID string) (domain.Participant, error) {
	return m.depart(ctx, conversationID, personID, domain.ParticipantLeft, audit.ParticipantLeft, personID)
}

func (m *Manager) depart(ctx context.Context, conversationID, personID string, state domain.ParticipantState, event, by string) (domain.Participant, error) {
	if _, err := m.group(ctx, conversationID); err != nil {
		return domain.Participant{}, err
	}
	p, err := m.Store.GetParticipant(ctx, conversationID, personID)
	if err != nil {
		return p, err
	}
	if p.Role == domain.RoleOwner {
		return p, fmt.Errorf("%w: the owner cannot leave or be removed", domain.ErrPermissionDenied)
	}
	if p.State == state {
		return p, nil
	}
	now := m.now()
	p.State = state
	p.LeftAt = &now
	if err := m.Store.UpdateParticipant(ctx, p); err != nil {
		return p, err
	}
	m.emit(ctx, audit.Event{Type: event, ConversationID: conversationID, PersonID: personID, Attrs: map[string]string{"by": by}})
	return p, nil
}

// SetTitle renames a group. Owners and admins only.
func (m *Manager) SetTitle(ctx context.Context, conversationID, actorID, title string) (domain.Conversation, error) {
	if _, err := m.group(ctx, conversationID); err != nil {
		return domain.Conversation{}, err
	}
	if err := m.requireManager(ctx, conversationID, actorID); err != nil {
		return domain.Conversation{}, err
	}
	if err := m.Store.SetConversationTitle(ctx, conversationID, title, m.now()); err != nil {
		return domain.Conversation{}, err
	}
	return m.Store.GetConversation(ctx, conversationID)
}

// CanSend reports whether person may post. Direct conversations accept
// anyone who is not removed or gone; groups need an active participant.
func (m *Manager) CanSend(ctx context.Context, conversationID, personID string) (bool, error) {
	conv, err := m.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return false, err
	}
	p, err := m.Store.GetParticipant(ctx, conversationID, personID)
	if errors.Is(err, store.ErrNotFound) {
		return !conv.IsGroup(), nil
	}
	if err != nil {
		return false, err
	}
	if conv.IsGroup() {
		return p.Active(), nil
	}
	return p.State != domain.ParticipantRemoved, nil
}

func (m *Manager) ActiveParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	all, err := m.Store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Manager) group(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conv, err := m.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return conv, err
	}
	if !conv.IsGroup() {
		return conv, fmt.Errorf("%w: %s is not a group", domain.ErrInvalidState, conversationID)
	}
	return conv, nil
}

func (m *Manager) requireManager(ctx context.Context, conversationID, actorID string) error {
	p, err := m.Store.GetParticipant(ctx, conversationID, actorID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (!p.Active() || !p.Role.Manages())) {
		return fmt.Errorf("%w: %s cannot manage %s", domain.ErrPermissionDenied, actorID, conversationID)
	}
	return err
}
