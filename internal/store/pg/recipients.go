package pg

import (
	"context"

	"comms/internal/domain"
)

func (s *Store) GetRecipient(ctx context.Context, id string) (domain.Recipient, error) {
	var r domain.Recipient
	err := s.q.QueryRow(ctx, `
		SELECT id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(preferred_locale,''), staff
		FROM recipients WHERE id=$1
	`, id).Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.PreferredLocale, &r.Staff)
	return r, notFound(err)
}

func (s *Store) SaveRecipient(ctx context.Context, r domain.Recipient) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO recipients (id, name, email, phone, preferred_locale, staff)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email, phone=EXCLUDED.phone,
			preferred_locale=EXCLUDED.preferred_locale, staff=EXCLUDED.staff
	`, r.ID, r.Name, nullIfEmpty(r.Email), nullIfEmpty(r.Phone), nullIfEmpty(r.PreferredLocale), r.Staff)
	return err
}
