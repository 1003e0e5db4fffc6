package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"comms/internal/domain"
)

const templateColumns = `id, key, name, message_type, COALESCE(event_type,''), email_subject, email_body_text,
	email_body_html, sms_body, is_active, created_at, updated_at`

func scanTemplate(row pgx.Row) (domain.Template, error) {
	var t domain.Template
	err := row.Scan(&t.ID, &t.Key, &t.Name, &t.MessageType, &t.EventType, &t.EmailSubject, &t.EmailBodyText,
		&t.EmailBodyHTML, &t.SMSBody, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) GetTemplateByKey(ctx context.Context, key string) (domain.Template, error) {
	t, err := scanTemplate(s.q.QueryRow(ctx, `
		SELECT `+templateColumns+` FROM templates WHERE key=$1 AND is_active
	`, key))
	return t, notFound(err)
}

func (s *Store) ListTemplatesByEvent(ctx context.Context, eventType string) ([]domain.Template, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+templateColumns+` FROM templates WHERE event_type=$1 AND is_active ORDER BY key
	`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SaveTemplate(ctx context.Context, t domain.Template) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO templates (id, key, name, message_type, event_type, email_subject, email_body_text,
			email_body_html, sms_body, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (key) DO UPDATE SET
			name=EXCLUDED.name, message_type=EXCLUDED.message_type, event_type=EXCLUDED.event_type,
			email_subject=EXCLUDED.email_subject, email_body_text=EXCLUDED.email_body_text,
			email_body_html=EXCLUDED.email_body_html, sms_body=EXCLUDED.sms_body,
			is_active=EXCLUDED.is_active, updated_at=EXCLUDED.updated_at
	`, t.ID, t.Key, t.Name, t.MessageType, nullIfEmpty(t.EventType), t.EmailSubject, t.EmailBodyText,
		t.EmailBodyHTML, t.SMSBody, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.Key, err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, slug string) (domain.IdentityProfile, error) {
	var p domain.IdentityProfile
	var raw []byte
	err := s.q.QueryRow(ctx, `
		SELECT slug, name, from_name, default_locale, is_active, identities FROM identity_profiles WHERE slug=$1
	`, slug).Scan(&p.Slug, &p.Name, &p.FromName, &p.DefaultLocale, &p.IsActive, &raw)
	if err != nil {
		return domain.IdentityProfile{}, notFound(err)
	}
	if err := json.Unmarshal(raw, &p.Identities); err != nil {
		return domain.IdentityProfile{}, fmt.Errorf("decode identities for %s: %w", slug, err)
	}
	return p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p domain.IdentityProfile) error {
	raw, err := json.Marshal(p.Identities)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO identity_profiles (slug, name, from_name, default_locale, is_active, identities)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (slug) DO UPDATE SET name=EXCLUDED.name, from_name=EXCLUDED.from_name,
			default_locale=EXCLUDED.default_locale, is_active=EXCLUDED.is_active, identities=EXCLUDED.identities
	`, p.Slug, p.Name, p.FromName, p.DefaultLocale, p.IsActive, raw)
	return err
}
