package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"comms/internal/domain"
	"comms/internal/store"
)

const messageColumns = `id, direction, channel, COALESCE(message_type,''), status,
	COALESCE(recipient_id,''), COALESCE(sender_id,''), from_address, COALESCE(from_name,''), to_address,
	COALESCE(reply_to,''), COALESCE(config_set,''), COALESCE(locale,''), subject, body_text, body_html,
	COALESCE(template_id,''), COALESCE(conversation_id,''), COALESCE(related_type,''), COALESCE(related_id,''),
	COALESCE(provider,''), COALESCE(provider_msg_id,''), COALESCE(error,''), sent_at, delivered_at,
	created_at, updated_at`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var relType, relID string
	err := row.Scan(&m.ID, &m.Direction, &m.Channel, &m.MessageType, &m.Status,
		&m.RecipientID, &m.SenderID, &m.FromAddress, &m.FromName, &m.ToAddress,
		&m.ReplyTo, &m.ConfigSet, &m.Locale, &m.Subject, &m.BodyText, &m.BodyHTML,
		&m.TemplateID, &m.ConversationID, &relType, &relID,
		&m.Provider, &m.ProviderMessageID, &m.Error, &m.SentAt, &m.DeliveredAt,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	m.Related = relatedRef(relType, relID)
	return m, nil
}

func (s *Store) InsertMessage(ctx context.Context, m domain.Message) error {
	relType, relID := relatedArgs(m.Related)
	_, err := s.q.Exec(ctx, `
		INSERT INTO messages (id, direction, channel, message_type, status, recipient_id, sender_id,
			from_address, from_name, to_address, reply_to, config_set, locale, subject, body_text, body_html,
			template_id, conversation_id, related_type, related_id, provider, provider_msg_id, error,
			sent_at, delivered_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
	`, m.ID, m.Direction, m.Channel, nullIfEmpty(string(m.MessageType)), m.Status,
		nullIfEmpty(m.RecipientID), nullIfEmpty(m.SenderID), m.FromAddress, nullIfEmpty(m.FromName), m.ToAddress,
		nullIfEmpty(m.ReplyTo), nullIfEmpty(m.ConfigSet), nullIfEmpty(m.Locale), m.Subject, m.BodyText, m.BodyHTML,
		nullIfEmpty(m.TemplateID), nullIfEmpty(m.ConversationID), relType, relID,
		nullIfEmpty(m.Provider), nullIfEmpty(m.ProviderMessageID), nullIfEmpty(m.Error),
		m.SentAt, m.DeliveredAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	m, err := scanMessage(s.q.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
	return m, notFound(err)
}

// TransitionMessage only moves rows still in in.From, which keeps status changes monotonic
// under concurrent callbacks.
func (s *Store) TransitionMessage(ctx context.Context, in store.MessageTransition) (bool, error) {
	ct, err := s.q.Exec(ctx, `
		UPDATE messages
		SET status=$3,
		    provider=COALESCE($4, provider),
		    provider_msg_id=COALESCE($5, provider_msg_id),
		    error=COALESCE($6, error),
		    sent_at=COALESCE($7, sent_at),
		    delivered_at=COALESCE($8, delivered_at),
		    updated_at=$9
		WHERE id=$1 AND status=$2
	`, in.ID, in.From, in.To, nullIfEmpty(in.Provider), nullIfEmpty(in.ProviderMessageID),
		nullIfEmpty(in.Error), in.SentAt, in.DeliveredAt, in.Now)
	if err != nil {
		return false, fmt.Errorf("transition message %s %s->%s: %w", in.ID, in.From, in.To, err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) FindMessageByProviderID(ctx context.Context, provider, providerMessageID string) (domain.Message, error) {
	m, err := scanMessage(s.q.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE provider=$1 AND provider_msg_id=$2
		ORDER BY created_at DESC LIMIT 1
	`, provider, providerMessageID))
	return m, notFound(err)
}

func (s *Store) ListConversationMessages(ctx context.Context, page store.MessagePage) ([]domain.Message, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id=$1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, page.ConversationID, page.Before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountUnread(ctx context.Context, conversationID, personID string, after *time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE conversation_id=$1
		  AND sender_id IS DISTINCT FROM $2
		  AND ($3::timestamptz IS NULL OR created_at > $3)
	`, conversationID, personID, after).Scan(&n)
	return n, err
}
