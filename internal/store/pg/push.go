package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"comms/internal/domain"
	"comms/internal/store"
)

const pushColumns = `id, recipient_id, endpoint, p256dh, auth, COALESCE(user_agent,''), is_active,
	failure_count, last_success, created_at`

func scanPush(row pgx.Row) (domain.PushEndpoint, error) {
	var ep domain.PushEndpoint
	err := row.Scan(&ep.ID, &ep.RecipientID, &ep.Endpoint, &ep.P256dh, &ep.Auth, &ep.UserAgent, &ep.IsActive,
		&ep.FailureCount, &ep.LastSuccess, &ep.CreatedAt)
	return ep, err
}

func (s *Store) ListActivePushEndpoints(ctx context.Context, recipientID string) ([]domain.PushEndpoint, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+pushColumns+` FROM push_endpoints
		WHERE recipient_id=$1 AND is_active
		ORDER BY created_at, id
	`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PushEndpoint
	for rows.Next() {
		ep, err := scanPush(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *Store) GetActivePushEndpoint(ctx context.Context, endpointURL string) (domain.PushEndpoint, error) {
	ep, err := scanPush(s.q.QueryRow(ctx, `
		SELECT `+pushColumns+` FROM push_endpoints WHERE endpoint=$1 AND is_active
	`, endpointURL))
	return ep, notFound(err)
}

// SavePushEndpoint re-subscribing the same endpoint reactivates it with fresh keys.
func (s *Store) SavePushEndpoint(ctx context.Context, ep domain.PushEndpoint) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO push_endpoints (id, recipient_id, endpoint, p256dh, auth, user_agent, is_active, failure_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,true,0,$7)
		ON CONFLICT (endpoint) DO UPDATE SET recipient_id=EXCLUDED.recipient_id, p256dh=EXCLUDED.p256dh,
			auth=EXCLUDED.auth, user_agent=EXCLUDED.user_agent, is_active=true, failure_count=0
	`, ep.ID, ep.RecipientID, ep.Endpoint, ep.P256dh, ep.Auth, nullIfEmpty(ep.UserAgent), ep.CreatedAt)
	if err != nil {
		return fmt.Errorf("save push endpoint: %w", err)
	}
	return nil
}

func (s *Store) RecordPushSuccess(ctx context.Context, id string, at time.Time) error {
	ct, err := s.q.Exec(ctx, `UPDATE push_endpoints SET failure_count=0, last_success=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordPushFailure is a single statement so concurrent failures on one endpoint
// cannot lose an increment.
func (s *Store) RecordPushFailure(ctx context.Context, id string, threshold int) (domain.PushEndpoint, error) {
	ep, err := scanPush(s.q.QueryRow(ctx, `
		UPDATE push_endpoints
		SET failure_count = failure_count + 1,
		    is_active = CASE WHEN failure_count + 1 >= $2 THEN false ELSE is_active END
		WHERE id=$1
		RETURNING `+pushColumns, id, threshold))
	return ep, notFound(err)
}

func (s *Store) DeactivatePushEndpoint(ctx context.Context, id string) error {
	ct, err := s.q.Exec(ctx, `UPDATE push_endpoints SET is_active=false WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
