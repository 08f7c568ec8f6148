package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-notification-service/internal/domain"
	"crm-notification-service/pkg/xerrors"
)

type pgNotificationRepo struct {
	db *pgxpool.Pool
}

const notificationColumns = `
	id, organization_id, user_id, event_type, related_entity_id,
	title, message, priority, action_url, action_label, icon, group_key,
	status, snoozed_until, expires_at, metadata, created_at
`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID,
		&n.OrganizationID,
		&n.UserID,
		&n.EventType,
		&n.RelatedEntityID,
		&n.Title,
		&n.Message,
		&n.Priority,
		&n.ActionURL,
		&n.ActionLabel,
		&n.Icon,
		&n.GroupKey,
		&n.Status,
		&n.SnoozedUntil,
		&n.ExpiresAt,
		&n.Metadata,
		&n.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (p *pgNotificationRepo) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if n.Status == "" {
		n.Status = domain.StatusUnread
	}
	if n.Metadata.Version == 0 {
		n.Metadata.Version = domain.MetadataVersion
	}

	query := `
		INSERT INTO notifications (
			organization_id, user_id, event_type, related_entity_id,
			title, message, priority, action_url, action_label, icon, group_key,
			status, snoozed_until, expires_at, metadata
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)
		RETURNING ` + notificationColumns

	row := p.db.QueryRow(ctx, query,
		n.OrganizationID,
		n.UserID,
		n.EventType,
		n.RelatedEntityID,
		n.Title,
		n.Message,
		n.Priority,
		n.ActionURL,
		n.ActionLabel,
		n.Icon,
		n.GroupKey,
		n.Status,
		n.SnoozedUntil,
		n.ExpiresAt,
		n.Metadata,
	)
	return scanNotification(row)
}

func (p *pgNotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return scanNotification(p.db.QueryRow(ctx, query, id))
}

func (p *pgNotificationRepo) ListByIDs(ctx context.Context, ids []int64) ([]*domain.Notification, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ANY($1) ORDER BY created_at`

	rows, err := p.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (p *pgNotificationRepo) ListByUser(ctx context.Context, userID string, f ListFilter) ([]*domain.Notification, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}

	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := p.db.Query(ctx, query, userID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func collectNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return notifications, nil
}

func (p *pgNotificationRepo) CountUnread(ctx context.Context, userID string, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE user_id = $1
		  AND status = 'unread'
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND (snoozed_until IS NULL OR snoozed_until <= $2)
	`

	var count int
	if err := p.db.QueryRow(ctx, query, userID, now).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (p *pgNotificationRepo) MarkRead(ctx context.Context, id int64, userID string) error {
	query := `
		UPDATE notifications
		SET status = 'read'
		WHERE id = $1
		  AND user_id = $2
		  AND status IN ('unread', 'snoozed')
	`

	ct, err := p.db.Exec(ctx, query, id, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (p *pgNotificationRepo) Archive(ctx context.Context, id int64, userID string) error {
	query := `
		UPDATE notifications
		SET status = 'archived'
		WHERE id = $1
		  AND user_id = $2
		  AND status <> 'archived'
	`

	ct, err := p.db.Exec(ctx, query, id, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (p *pgNotificationRepo) Snooze(ctx context.Context, id int64, userID string, until time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'snoozed', snoozed_until = $3
		WHERE id = $1
		  AND user_id = $2
		  AND status IN ('unread', 'snoozed')
	`

	ct, err := p.db.Exec(ctx, query, id, userID, until)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
