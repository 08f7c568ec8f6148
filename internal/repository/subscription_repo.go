package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-notification-service/internal/domain"
	"crm-notification-service/pkg/xerrors"
)

type pgSubscriptionRepo struct {
	db *pgxpool.Pool
}

const subscriptionColumns = `
	id, user_id, endpoint, p256dh_key, auth_key, device_name, active, created_at
`

func scanSubscription(row pgx.Row) (*domain.PushSubscription, error) {
	var s domain.PushSubscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Endpoint,
		&s.P256dhKey,
		&s.AuthKey,
		&s.DeviceName,
		&s.Active,
		&s.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *pgSubscriptionRepo) Create(ctx context.Context, s *domain.PushSubscription) (*domain.PushSubscription, error) {
	// Re-registering an endpoint revives it with fresh keys.
	query := `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key, device_name, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET
			p256dh_key  = EXCLUDED.p256dh_key,
			auth_key    = EXCLUDED.auth_key,
			device_name = EXCLUDED.device_name,
			active      = TRUE
		RETURNING ` + subscriptionColumns

	row := r.db.QueryRow(ctx, query, s.UserID, s.Endpoint, s.P256dhKey, s.AuthKey, s.DeviceName)
	return scanSubscription(row)
}

func (r *pgSubscriptionRepo) ListActiveByUser(ctx context.Context, userID string) ([]*domain.PushSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM push_subscriptions
		WHERE user_id = $1 AND active = TRUE
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.PushSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

func (r *pgSubscriptionRepo) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE push_subscriptions SET active = FALSE WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *pgSubscriptionRepo) DeleteByEndpoint(ctx context.Context, userID, endpoint string) error {
	query := `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`

	ct, err := r.db.Exec(ctx, query, userID, endpoint)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
