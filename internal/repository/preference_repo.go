package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-notification-service/internal/domain"
	"crm-notification-service/pkg/xerrors"
)

type pgPreferenceRepo struct {
	db *pgxpool.Pool
}

const preferenceColumns = `
	id, user_id, event_type,
	in_app_settings, email_settings, push_settings, sms_settings,
	min_priority, created_at, updated_at
`

func scanPreference(row pgx.Row) (*domain.NotificationPreference, error) {
	var p domain.NotificationPreference
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.EventType,
		&p.InApp,
		&p.Email,
		&p.Push,
		&p.SMS,
		&p.MinPriority,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *pgPreferenceRepo) Get(ctx context.Context, userID string, eventType domain.EventType) (*domain.NotificationPreference, error) {
	query := `SELECT ` + preferenceColumns + `
		FROM notification_preferences
		WHERE user_id = $1 AND event_type = $2`
	return scanPreference(r.db.QueryRow(ctx, query, userID, eventType))
}

func (r *pgPreferenceRepo) Upsert(ctx context.Context, p *domain.NotificationPreference) (*domain.NotificationPreference, error) {
	query := `
		INSERT INTO notification_preferences (
			user_id, event_type,
			in_app_settings, email_settings, push_settings, sms_settings,
			min_priority
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, event_type) DO UPDATE SET
			in_app_settings = EXCLUDED.in_app_settings,
			email_settings  = EXCLUDED.email_settings,
			push_settings   = EXCLUDED.push_settings,
			sms_settings    = EXCLUDED.sms_settings,
			min_priority    = EXCLUDED.min_priority,
			updated_at      = NOW()
		RETURNING ` + preferenceColumns

	row := r.db.QueryRow(ctx, query,
		p.UserID,
		p.EventType,
		p.InApp,
		p.Email,
		p.Push,
		p.SMS,
		p.MinPriority,
	)
	return scanPreference(row)
}

func (r *pgPreferenceRepo) ListByUser(ctx context.Context, userID string) ([]*domain.NotificationPreference, error) {
	query := `SELECT ` + preferenceColumns + `
		FROM notification_preferences
		WHERE user_id = $1
		ORDER BY event_type`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []*domain.NotificationPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prefs, nil
}

func (r *pgPreferenceRepo) EmailBlocked(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM notification_email_blocks WHERE user_id = $1)`

	var blocked bool
	if err := r.db.QueryRow(ctx, query, userID).Scan(&blocked); err != nil {
		return false, err
	}
	return blocked, nil
}

func (r *pgPreferenceRepo) BlockEmail(ctx context.Context, userID, reason string) error {
	query := `
		INSERT INTO notification_email_blocks (user_id, reason)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, userID, reason)
	return err
}

func (r *pgPreferenceRepo) UnblockEmail(ctx context.Context, userID string) error {
	// The bounce counter goes too, otherwise the very next bounce would
	// re-trip the threshold.
	query := `
		WITH cleared AS (
			DELETE FROM notification_email_blocks WHERE user_id = $1
		)
		DELETE FROM notification_email_bounces WHERE user_id = $1
	`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

func (r *pgPreferenceRepo) RecordHardBounce(ctx context.Context, userID string) (int, error) {
	query := `
		INSERT INTO notification_email_bounces (user_id, hard_bounces)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET hard_bounces = notification_email_bounces.hard_bounces + 1,
		    last_bounce_at = NOW()
		RETURNING hard_bounces
	`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
