package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/metrics"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/notifier"
	"crm-notification-service/pkg/xerrors"
)

// DeliveryTracker owns the delivery record lifecycle. It is the only
// component that mutates delivery state; transports, webhooks and client
// acks all report through it. Invalid transitions are silent no-ops since
// third-party webhooks arrive out of order.
type DeliveryTracker struct {
	repo            *repository.Repository
	metrics         *metrics.Metrics
	logger          *zap.Logger
	bounceThreshold int
	clock           func() time.Time
}

func NewDeliveryTracker(repo *repository.Repository, m *metrics.Metrics, logger *zap.Logger, bounceThreshold int) *DeliveryTracker {
	if bounceThreshold <= 0 {
		bounceThreshold = 3
	}
	return &DeliveryTracker{
		repo:            repo,
		metrics:         m,
		logger:          logger,
		bounceThreshold: bounceThreshold,
		clock:           time.Now,
	}
}

func (t *DeliveryTracker) CreateDelivery(ctx context.Context, notificationID int64, channel domain.Channel) (*domain.Delivery, error) {
	d, err := t.repo.Deliveries.Create(ctx, &domain.Delivery{
		NotificationID: notificationID,
		Channel:        channel,
		Status:         domain.DeliveryPending,
	})
	if err != nil {
		return nil, err
	}
	t.metrics.Deliveries.WithLabelValues(string(channel), string(domain.DeliveryPending)).Inc()
	return d, nil
}

// apply moves d forward to target. Returns whether the transition was
// actually applied; losing a race or arriving out of order is not an error.
func (t *DeliveryTracker) apply(ctx context.Context, d *domain.Delivery, target domain.DeliveryStatus, lastError *string) (bool, error) {
	applied, err := t.repo.Deliveries.UpdateStatus(ctx, d.ID, target, lastError)
	if err != nil {
		return false, err
	}
	if applied {
		d.Status = target
		t.metrics.Deliveries.WithLabelValues(string(d.Channel), string(target)).Inc()
	}
	return applied, nil
}

func (t *DeliveryTracker) MarkSent(ctx context.Context, d *domain.Delivery) error {
	_, err := t.apply(ctx, d, domain.DeliverySent, nil)
	return err
}

func (t *DeliveryTracker) MarkDelivered(ctx context.Context, d *domain.Delivery) error {
	_, err := t.apply(ctx, d, domain.DeliveryDelivered, nil)
	return err
}

func (t *DeliveryTracker) MarkRead(ctx context.Context, d *domain.Delivery) error {
	_, err := t.apply(ctx, d, domain.DeliveryRead, nil)
	return err
}

func (t *DeliveryTracker) MarkClicked(ctx context.Context, d *domain.Delivery) error {
	_, err := t.apply(ctx, d, domain.DeliveryClicked, nil)
	return err
}

// MarkFailed records the outcome; it never retries. Channel adapters may
// retry internally before reporting here.
func (t *DeliveryTracker) MarkFailed(ctx context.Context, d *domain.Delivery, sendErr error) error {
	if err := t.repo.Deliveries.IncrementAttempt(ctx, d.ID); err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		t.logger.Warn("failed to increment delivery attempts",
			zap.Int64("delivery_id", d.ID),
			zap.Error(err))
	}
	d.AttemptCount++

	msg := "send failed"
	if sendErr != nil {
		msg = sendErr.Error()
	}
	_, err := t.apply(ctx, d, domain.DeliveryFailed, &msg)
	return err
}

// RecordResult is the async send callback: the router fires a transport send
// and the outcome lands here, never back at the producer.
func (t *DeliveryTracker) RecordResult(ctx context.Context, d *domain.Delivery, res *notifier.Result, sendErr error) {
	if sendErr != nil {
		if err := t.MarkFailed(ctx, d, sendErr); err != nil {
			t.logger.Error("failed to record delivery failure",
				zap.Int64("delivery_id", d.ID),
				zap.Error(err))
		}
		return
	}

	if res != nil && res.ProviderMessageID != "" {
		if err := t.repo.Deliveries.SetProviderMessageID(ctx, d.ID, res.ProviderMessageID); err != nil {
			t.logger.Warn("failed to store provider message id",
				zap.Int64("delivery_id", d.ID),
				zap.Error(err))
		}
	}
	if err := t.MarkSent(ctx, d); err != nil {
		t.logger.Error("failed to mark delivery sent",
			zap.Int64("delivery_id", d.ID),
			zap.Error(err))
	}
}

// AckInApp handles a client ack frame: the in-app delivery moves to
// delivered unless it is already past that point. The notification must
// belong to the acking user; foreign ids read as not found.
func (t *DeliveryTracker) AckInApp(ctx context.Context, userID string, notificationID int64) error {
	n, err := t.repo.Notifications.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return xerrors.ErrNotFound
	}
	d, err := t.repo.Deliveries.GetByNotificationAndChannel(ctx, notificationID, domain.ChannelInApp)
	if err != nil {
		return err
	}
	return t.MarkDelivered(ctx, d)
}

// WebhookEvent is a delivery-status-affecting event reported by a transport
// provider.
type WebhookEvent struct {
	Channel           domain.Channel `json:"channel"`
	ProviderMessageID string         `json:"provider_message_id"`
	DeliveryID        int64          `json:"delivery_id,omitempty"`
	Event             string         `json:"event"`
	Description       string         `json:"description,omitempty"`
}

// Webhook event names accepted from transports.
const (
	WebhookDelivered    = "delivered"
	WebhookOpened       = "opened"
	WebhookClicked      = "clicked"
	WebhookBounced      = "bounced"
	WebhookComplained   = "complained"
	WebhookUnsubscribed = "unsubscribed"
)

// HandleWebhookEvent applies one provider callback. Unknown deliveries and
// out-of-order events are absorbed silently; bounce/complaint policy may
// additionally disable the user's email channel org-wide.
func (t *DeliveryTracker) HandleWebhookEvent(ctx context.Context, ev WebhookEvent) error {
	var d *domain.Delivery
	var err error
	if ev.DeliveryID > 0 {
		d, err = t.repo.Deliveries.GetByID(ctx, ev.DeliveryID)
	} else if ev.ProviderMessageID != "" {
		d, err = t.repo.Deliveries.FindByProviderMessageID(ctx, ev.Channel, ev.ProviderMessageID)
	} else {
		return xerrors.ErrInvalidInput
	}
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			t.logger.Debug("webhook for unknown delivery",
				zap.String("channel", string(ev.Channel)),
				zap.String("provider_message_id", ev.ProviderMessageID))
			return nil
		}
		return err
	}

	switch ev.Event {
	case WebhookDelivered:
		return t.MarkDelivered(ctx, d)
	case WebhookOpened:
		return t.MarkRead(ctx, d)
	case WebhookClicked:
		return t.MarkClicked(ctx, d)
	case WebhookBounced:
		return t.handleBounce(ctx, d, ev)
	case WebhookComplained, WebhookUnsubscribed:
		return t.blockEmail(ctx, d, ev.Event)
	default:
		return fmt.Errorf("%w: webhook event %q", xerrors.ErrInvalidInput, ev.Event)
	}
}

func (t *DeliveryTracker) handleBounce(ctx context.Context, d *domain.Delivery, ev WebhookEvent) error {
	desc := ev.Description
	if desc == "" {
		desc = "hard bounce"
	}
	if err := t.MarkFailed(ctx, d, errors.New(desc)); err != nil {
		return err
	}

	n, err := t.repo.Notifications.GetByID(ctx, d.NotificationID)
	if err != nil {
		return err
	}
	count, err := t.repo.Preferences.RecordHardBounce(ctx, n.UserID)
	if err != nil {
		return err
	}
	if count >= t.bounceThreshold {
		return t.blockEmailForUser(ctx, n.UserID, fmt.Sprintf("%d hard bounces", count))
	}
	return nil
}

func (t *DeliveryTracker) blockEmail(ctx context.Context, d *domain.Delivery, reason string) error {
	n, err := t.repo.Notifications.GetByID(ctx, d.NotificationID)
	if err != nil {
		return err
	}
	return t.blockEmailForUser(ctx, n.UserID, reason)
}

func (t *DeliveryTracker) blockEmailForUser(ctx context.Context, userID, reason string) error {
	if err := t.repo.Preferences.BlockEmail(ctx, userID, reason); err != nil {
		return err
	}
	t.metrics.EmailBlocks.Inc()
	t.logger.Warn("email channel disabled for user",
		zap.String("user_id", userID),
		zap.String("reason", reason))
	return nil
}

// -----------------------------
// Read queries
// -----------------------------

func (t *DeliveryTracker) UnreadCount(ctx context.Context, userID string) (int, error) {
	return t.repo.Notifications.CountUnread(ctx, userID, t.clock())
}

func (t *DeliveryTracker) ListNotifications(ctx context.Context, userID string, f repository.ListFilter) ([]*domain.Notification, error) {
	return t.repo.Notifications.ListByUser(ctx, userID, f)
}

// ListDeliveries returns the delivery records behind one of the user's own
// notifications; anyone else's read as not found.
func (t *DeliveryTracker) ListDeliveries(ctx context.Context, userID string, notificationID int64) ([]*domain.Delivery, error) {
	n, err := t.repo.Notifications.GetByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, xerrors.ErrNotFound
	}
	return t.repo.Deliveries.ListByNotification(ctx, notificationID)
}

func (t *DeliveryTracker) PendingInApp(ctx context.Context, userID string) ([]*repository.InAppPending, error) {
	return t.repo.Deliveries.ListPendingInApp(ctx, userID)
}

// MarkNotificationRead is the user-facing read operation; the in-app
// delivery, if any, follows along best-effort.
func (t *DeliveryTracker) MarkNotificationRead(ctx context.Context, id int64, userID string) error {
	if err := t.repo.Notifications.MarkRead(ctx, id, userID); err != nil {
		return err
	}
	d, err := t.repo.Deliveries.GetByNotificationAndChannel(ctx, id, domain.ChannelInApp)
	if err == nil {
		_ = t.MarkRead(ctx, d)
	}
	return nil
}

func (t *DeliveryTracker) ArchiveNotification(ctx context.Context, id int64, userID string) error {
	return t.repo.Notifications.Archive(ctx, id, userID)
}

func (t *DeliveryTracker) SnoozeNotification(ctx context.Context, id int64, userID string, until time.Time) error {
	if !until.After(t.clock()) {
		return xerrors.ErrInvalidInput
	}
	return t.repo.Notifications.Snooze(ctx, id, userID, until)
}
