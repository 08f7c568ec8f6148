package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-notification-service/internal/domain"
	"crm-notification-service/pkg/xerrors"
)

type pgBatchRepo struct {
	db *pgxpool.Pool
}

const batchColumns = `
	id, user_id, frequency, notification_ids, scheduled_for, status, created_at, closed_at
`

func scanBatch(row pgx.Row) (*domain.NotificationBatch, error) {
	var b domain.NotificationBatch
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.Frequency,
		&b.NotificationIDs,
		&b.ScheduledFor,
		&b.Status,
		&b.CreatedAt,
		&b.ClosedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *pgBatchRepo) GetOpen(ctx context.Context, userID string, freq domain.Frequency) (*domain.NotificationBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM notification_batches
		WHERE user_id = $1 AND frequency = $2 AND status = 'pending'`
	return scanBatch(r.db.QueryRow(ctx, query, userID, freq))
}

func (r *pgBatchRepo) Create(ctx context.Context, b *domain.NotificationBatch) (*domain.NotificationBatch, error) {
	if b.Status == "" {
		b.Status = domain.BatchPending
	}

	// A partial unique index on (user_id, frequency) WHERE status = 'pending'
	// keeps at most one open batch per pair; racing writers get a unique
	// violation and re-read the winner.
	query := `
		INSERT INTO notification_batches (user_id, frequency, notification_ids, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + batchColumns

	row := r.db.QueryRow(ctx, query, b.UserID, b.Frequency, b.NotificationIDs, b.ScheduledFor, b.Status)
	return scanBatch(row)
}

func (r *pgBatchRepo) AppendNotification(ctx context.Context, batchID, notificationID int64) error {
	// Idempotent: appending an id already in the set is a no-op, and a closed
	// batch never grows.
	query := `
		UPDATE notification_batches
		SET notification_ids = array_append(notification_ids, $2)
		WHERE id = $1
		  AND status = 'pending'
		  AND NOT ($2 = ANY(notification_ids))
	`

	ct, err := r.db.Exec(ctx, query, batchID, notificationID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Distinguish "already a member" (fine) from "batch closed or gone".
		var status domain.BatchStatus
		var member bool
		check := `SELECT status, $2 = ANY(notification_ids) FROM notification_batches WHERE id = $1`
		if err := r.db.QueryRow(ctx, check, batchID, notificationID).Scan(&status, &member); err != nil {
			if err == pgx.ErrNoRows {
				return xerrors.ErrNotFound
			}
			return err
		}
		if member {
			return nil
		}
		return xerrors.ErrBatchClosed
	}
	return nil
}

func (r *pgBatchRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationBatch, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + batchColumns + `
		FROM notification_batches
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.NotificationBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return batches, nil
}

func (r *pgBatchRepo) Close(ctx context.Context, batchID int64, status domain.BatchStatus) error {
	query := `
		UPDATE notification_batches
		SET status = $2, closed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	ct, err := r.db.Exec(ctx, query, batchID, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrBatchClosed
	}
	return nil
}
