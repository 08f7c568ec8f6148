package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm-notification-service/internal/domain"
	"crm-notification-service/pkg/xerrors"
)

type pgDeliveryRepo struct {
	db *pgxpool.Pool
}

const deliveryColumns = `
	id, notification_id, channel, status,
	sent_at, delivered_at, read_at, clicked_at, failed_at,
	attempt_count, last_error, provider_message_id, created_at
`

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var d domain.Delivery
	err := row.Scan(
		&d.ID,
		&d.NotificationID,
		&d.Channel,
		&d.Status,
		&d.SentAt,
		&d.DeliveredAt,
		&d.ReadAt,
		&d.ClickedAt,
		&d.FailedAt,
		&d.AttemptCount,
		&d.LastError,
		&d.ProviderMessageID,
		&d.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (p *pgDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) (*domain.Delivery, error) {
	if d.Status == "" {
		d.Status = domain.DeliveryPending
	}

	query := `
		INSERT INTO notification_deliveries (notification_id, channel, status, attempt_count)
		VALUES ($1, $2, $3, 0)
		RETURNING ` + deliveryColumns

	row := p.db.QueryRow(ctx, query, d.NotificationID, d.Channel, d.Status)
	return scanDelivery(row)
}

func (p *pgDeliveryRepo) GetByID(ctx context.Context, id int64) (*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries WHERE id = $1`
	return scanDelivery(p.db.QueryRow(ctx, query, id))
}

func (p *pgDeliveryRepo) GetByNotificationAndChannel(ctx context.Context, notificationID int64, channel domain.Channel) (*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM notification_deliveries
		WHERE notification_id = $1 AND channel = $2`
	return scanDelivery(p.db.QueryRow(ctx, query, notificationID, channel))
}

func (p *pgDeliveryRepo) FindByProviderMessageID(ctx context.Context, channel domain.Channel, providerMessageID string) (*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM notification_deliveries
		WHERE channel = $1 AND provider_message_id = $2`
	return scanDelivery(p.db.QueryRow(ctx, query, channel, providerMessageID))
}

func (p *pgDeliveryRepo) ListByNotification(ctx context.Context, notificationID int64) ([]*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM notification_deliveries
		WHERE notification_id = $1
		ORDER BY id`

	rows, err := p.db.Query(ctx, query, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deliveries, nil
}

func (p *pgDeliveryRepo) ListPendingInApp(ctx context.Context, userID string) ([]*InAppPending, error) {
	query := `
		SELECT ` + deliveryColumns + `, ` + notificationColumns + `
		FROM notification_deliveries d
		JOIN notifications n ON n.id = d.notification_id
		WHERE n.user_id = $1
		  AND d.channel = 'in_app'
		  AND d.status IN ('pending', 'sent')
		  AND (n.expires_at IS NULL OR n.expires_at > NOW())
		ORDER BY n.created_at
	`

	rows, err := p.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*InAppPending
	for rows.Next() {
		var d domain.Delivery
		var n domain.Notification
		err := rows.Scan(
			&d.ID, &d.NotificationID, &d.Channel, &d.Status,
			&d.SentAt, &d.DeliveredAt, &d.ReadAt, &d.ClickedAt, &d.FailedAt,
			&d.AttemptCount, &d.LastError, &d.ProviderMessageID, &d.CreatedAt,
			&n.ID, &n.OrganizationID, &n.UserID, &n.EventType, &n.RelatedEntityID,
			&n.Title, &n.Message, &n.Priority, &n.ActionURL, &n.ActionLabel, &n.Icon, &n.GroupKey,
			&n.Status, &n.SnoozedUntil, &n.ExpiresAt, &n.Metadata, &n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		pending = append(pending, &InAppPending{Delivery: &d, Notification: &n})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pending, nil
}

// statusTimestampColumn maps a target status to the timestamp column stamped
// on transition.
func statusTimestampColumn(target domain.DeliveryStatus) (string, error) {
	switch target {
	case domain.DeliverySent:
		return "sent_at", nil
	case domain.DeliveryDelivered:
		return "delivered_at", nil
	case domain.DeliveryRead:
		return "read_at", nil
	case domain.DeliveryClicked:
		return "clicked_at", nil
	case domain.DeliveryFailed:
		return "failed_at", nil
	}
	return "", fmt.Errorf("no transition into status %q", target)
}

func (p *pgDeliveryRepo) UpdateStatus(ctx context.Context, id int64, target domain.DeliveryStatus, lastError *string) (bool, error) {
	tsCol, err := statusTimestampColumn(target)
	if err != nil {
		return false, err
	}

	sources := domain.TransitionSources(target)
	from := make([]string, 0, len(sources))
	for _, s := range sources {
		from = append(from, string(s))
	}

	// Compare-and-set on the current status: a webhook callback and a client
	// ack can race, and only one of them may win.
	query := fmt.Sprintf(`
		UPDATE notification_deliveries
		SET status = $2,
		    %s = NOW(),
		    last_error = COALESCE($3, last_error)
		WHERE id = $1
		  AND status = ANY($4)
	`, tsCol)

	ct, err := p.db.Exec(ctx, query, id, target, lastError, from)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (p *pgDeliveryRepo) SetProviderMessageID(ctx context.Context, id int64, providerMessageID string) error {
	query := `UPDATE notification_deliveries SET provider_message_id = $2 WHERE id = $1`

	ct, err := p.db.Exec(ctx, query, id, providerMessageID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (p *pgDeliveryRepo) IncrementAttempt(ctx context.Context, id int64) error {
	query := `UPDATE notification_deliveries SET attempt_count = attempt_count + 1 WHERE id = $1`

	ct, err := p.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
