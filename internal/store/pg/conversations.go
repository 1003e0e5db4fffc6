package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"comms/internal/domain"
	"comms/internal/store"
)

const conversationColumns = `c.id, c.kind, c.title, c.subject, c.normalized_subject, c.status,
	COALESCE(c.primary_channel,''), COALESCE(c.thread_id,''), COALESCE(c.related_type,''), COALESCE(c.related_id,''),
	COALESCE(c.created_by,''), c.last_message_at, c.closed_at, COALESCE(c.closed_by,''), c.created_at, c.updated_at`

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var c domain.Conversation
	var relType, relID string
	err := row.Scan(&c.ID, &c.Kind, &c.Title, &c.Subject, &c.NormalizedSubject, &c.Status,
		&c.PrimaryChannel, &c.ThreadID, &relType, &relID,
		&c.CreatedBy, &c.LastMessageAt, &c.ClosedAt, &c.ClosedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Conversation{}, err
	}
	c.Related = relatedRef(relType, relID)
	return c, nil
}

func (s *Store) InsertConversation(ctx context.Context, c domain.Conversation) error {
	relType, relID := relatedArgs(c.Related)
	_, err := s.q.Exec(ctx, `
		INSERT INTO conversations (id, kind, title, subject, normalized_subject, status, primary_channel,
			thread_id, related_type, related_id, created_by, last_message_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, c.ID, c.Kind, c.Title, c.Subject, c.NormalizedSubject, c.Status, nullIfEmpty(string(c.PrimaryChannel)),
		nullIfEmpty(c.ThreadID), relType, relID, nullIfEmpty(c.CreatedBy), c.LastMessageAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	c, err := scanConversation(s.q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id=$1`, id))
	return c, notFound(err)
}

func (s *Store) FindConversationByThreadID(ctx context.Context, threadID string) (domain.Conversation, error) {
	c, err := scanConversation(s.q.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations c
		WHERE c.status='active' AND c.thread_id=$1
		ORDER BY c.created_at DESC LIMIT 1
	`, threadID))
	return c, notFound(err)
}

func (s *Store) FindConversationBySubjectAndAddress(ctx context.Context, normalizedSubject, address string) (domain.Conversation, error) {
	c, err := scanConversation(s.q.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations c
		WHERE c.status='active' AND c.normalized_subject=$1
		  AND EXISTS (
			SELECT 1 FROM participants p JOIN recipients r ON r.id = p.person_id
			WHERE p.conversation_id = c.id AND (lower(r.email) = lower($2) OR r.phone = $2)
		  )
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT 1
	`, normalizedSubject, address))
	return c, notFound(err)
}

func (s *Store) FindConversationByRelated(ctx context.Context, ref domain.RelatedRef) (domain.Conversation, error) {
	c, err := scanConversation(s.q.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations c
		WHERE c.related_type=$1 AND c.related_id=$2 AND c.status='active'
		ORDER BY c.created_at DESC LIMIT 1
	`, ref.Type, ref.ID))
	return c, notFound(err)
}

func (s *Store) ListConversationsForPerson(ctx context.Context, personID string) ([]domain.Conversation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.person_id=$1 AND p.state IN ('active','invited')
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
	`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchConversation never moves last_message_at backwards.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time, ch domain.Channel) error {
	ct, err := s.q.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(last_message_at, $2),
		    primary_channel = COALESCE(primary_channel, $3),
		    updated_at = now()
		WHERE id=$1
	`, id, at, nullIfEmpty(string(ch)))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetConversationStatus(ctx context.Context, in store.ConversationStatusUpdate) error {
	ct, err := s.q.Exec(ctx, `
		UPDATE conversations SET status=$2, closed_at=$3, closed_by=$4, updated_at=$5 WHERE id=$1
	`, in.ID, in.Status, in.ClosedAt, nullIfEmpty(in.ClosedBy), in.Now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetConversationTitle(ctx context.Context, id, title string, now time.Time) error {
	ct, err := s.q.Exec(ctx, `UPDATE conversations SET title=$2, updated_at=$3 WHERE id=$1`, id, title, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const participantColumns = `id, conversation_id, person_id, role, state, COALESCE(invited_by,''),
	joined_at, left_at, last_read_at, notifications_enabled, created_at`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.ConversationID, &p.PersonID, &p.Role, &p.State, &p.InvitedBy,
		&p.JoinedAt, &p.LeftAt, &p.LastReadAt, &p.NotificationsEnabled, &p.CreatedAt)
	return p, err
}

func (s *Store) EnsureParticipant(ctx context.Context, p domain.Participant) (domain.Participant, bool, error) {
	created, err := scanParticipant(s.q.QueryRow(ctx, `
		INSERT INTO participants (id, conversation_id, person_id, role, state, invited_by, joined_at,
			last_read_at, notifications_enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (conversation_id, person_id) DO NOTHING
		RETURNING `+participantColumns,
		p.ID, p.ConversationID, p.PersonID, p.Role, p.State, nullIfEmpty(p.InvitedBy), p.JoinedAt,
		p.LastReadAt, p.NotificationsEnabled, p.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, false, fmt.Errorf("insert participant: %w", err)
	}
	existing, err := s.GetParticipant(ctx, p.ConversationID, p.PersonID)
	return existing, false, err
}

func (s *Store) GetParticipant(ctx context.Context, conversationID, personID string) (domain.Participant, error) {
	p, err := scanParticipant(s.q.QueryRow(ctx, `
		SELECT `+participantColumns+` FROM participants WHERE conversation_id=$1 AND person_id=$2
	`, conversationID, personID))
	return p, notFound(err)
}

func (s *Store) UpdateParticipant(ctx context.Context, p domain.Participant) error {
	ct, err := s.q.Exec(ctx, `
		UPDATE participants
		SET role=$3, state=$4, invited_by=$5, joined_at=$6, left_at=$7, last_read_at=$8, notifications_enabled=$9
		WHERE conversation_id=$1 AND person_id=$2
	`, p.ConversationID, p.PersonID, p.Role, p.State, nullIfEmpty(p.InvitedBy), p.JoinedAt, p.LeftAt,
		p.LastReadAt, p.NotificationsEnabled)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, personID string, at time.Time) error {
	ct, err := s.q.Exec(ctx, `
		UPDATE participants SET last_read_at = GREATEST(last_read_at, $3)
		WHERE conversation_id=$1 AND person_id=$2
	`, conversationID, personID, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+participantColumns+` FROM participants WHERE conversation_id=$1 ORDER BY created_at, id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
