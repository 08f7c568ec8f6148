package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"crm-notification-service/internal/domain"
)

// ListFilter narrows a user's notification listing.
type ListFilter struct {
	Status domain.NotificationStatus // empty = all
	Limit  int
	Offset int
}

// InAppPending pairs an undelivered in-app delivery with its notification so
// the gateway can flush it on (re)connect.
type InAppPending struct {
	Delivery     *domain.Delivery
	Notification *domain.Notification
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*domain.Notification, error)
	ListByUser(ctx context.Context, userID string, f ListFilter) ([]*domain.Notification, error)
	CountUnread(ctx context.Context, userID string, now time.Time) (int, error)
	MarkRead(ctx context.Context, id int64, userID string) error
	Archive(ctx context.Context, id int64, userID string) error
	Snooze(ctx context.Context, id int64, userID string, until time.Time) error
}

type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) (*domain.Delivery, error)
	GetByID(ctx context.Context, id int64) (*domain.Delivery, error)
	GetByNotificationAndChannel(ctx context.Context, notificationID int64, channel domain.Channel) (*domain.Delivery, error)
	FindByProviderMessageID(ctx context.Context, channel domain.Channel, providerMessageID string) (*domain.Delivery, error)
	ListByNotification(ctx context.Context, notificationID int64) ([]*domain.Delivery, error)
	ListPendingInApp(ctx context.Context, userID string) ([]*InAppPending, error)
	// UpdateStatus applies a forward-only transition with compare-and-set
	// semantics: the row moves to target only if its current status is one of
	// the legal sources. Returns false (no error) when the transition lost the
	// race or was out of order.
	UpdateStatus(ctx context.Context, id int64, target domain.DeliveryStatus, lastError *string) (bool, error)
	SetProviderMessageID(ctx context.Context, id int64, providerMessageID string) error
	IncrementAttempt(ctx context.Context, id int64) error
}

type PreferenceRepository interface {
	Get(ctx context.Context, userID string, eventType domain.EventType) (*domain.NotificationPreference, error)
	Upsert(ctx context.Context, p *domain.NotificationPreference) (*domain.NotificationPreference, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.NotificationPreference, error)

	// Email health, independent of per-event preferences.
	EmailBlocked(ctx context.Context, userID string) (bool, error)
	BlockEmail(ctx context.Context, userID, reason string) error
	UnblockEmail(ctx context.Context, userID string) error
	RecordHardBounce(ctx context.Context, userID string) (int, error)
}

type BatchRepository interface {
	GetOpen(ctx context.Context, userID string, freq domain.Frequency) (*domain.NotificationBatch, error)
	Create(ctx context.Context, b *domain.NotificationBatch) (*domain.NotificationBatch, error)
	AppendNotification(ctx context.Context, batchID, notificationID int64) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationBatch, error)
	Close(ctx context.Context, batchID int64, status domain.BatchStatus) error
}

type SubscriptionRepository interface {
	Create(ctx context.Context, s *domain.PushSubscription) (*domain.PushSubscription, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.PushSubscription, error)
	Deactivate(ctx context.Context, id int64) error
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) error
}

// Repository aggregates all durable-store access behind one wiring point.
type Repository struct {
	Notifications NotificationRepository
	Deliveries    DeliveryRepository
	Preferences   PreferenceRepository
	Batches       BatchRepository
	Subscriptions SubscriptionRepository
}

func New(db *pgxpool.Pool) *Repository {
	return &Repository{
		Notifications: &pgNotificationRepo{db: db},
		Deliveries:    &pgDeliveryRepo{db: db},
		Preferences:   &pgPreferenceRepo{db: db},
		Batches:       &pgBatchRepo{db: db},
		Subscriptions: &pgSubscriptionRepo{db: db},
	}
}
