package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/metrics"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/notifier"
	"crm-notification-service/pkg/xerrors"
)

// Broadcaster is the realtime gateway surface the router needs: deliver to a
// user's live connections, reporting whether anyone was there to receive it.
type Broadcaster interface {
	BroadcastToUser(userID string, n *domain.Notification) bool
}

// CreateInput is the producer-facing creation call. One event may target many
// users; routing happens per user.
type CreateInput struct {
	OrganizationID  string            `json:"organization_id"`
	UserIDs         []string          `json:"user_ids"`
	EventType       domain.EventType  `json:"event_type"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	Priority        domain.Priority   `json:"priority,omitempty"`
	RelatedEntityID *string           `json:"related_entity_id,omitempty"`
	ActionURL       *string           `json:"action_url,omitempty"`
	ActionLabel     *string           `json:"action_label,omitempty"`
	Icon            *string           `json:"icon,omitempty"`
	GroupKey        *string           `json:"group_key,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
}

func (in *CreateInput) validate() error {
	if in.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id required", xerrors.ErrInvalidInput)
	}
	if len(in.UserIDs) == 0 {
		return fmt.Errorf("%w: at least one user id required", xerrors.ErrInvalidInput)
	}
	if !in.EventType.Valid() {
		return fmt.Errorf("%w: %q", xerrors.ErrUnknownEventType, in.EventType)
	}
	if in.Title == "" {
		return fmt.Errorf("%w: title required", xerrors.ErrInvalidInput)
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", xerrors.ErrInvalidInput, in.Priority)
	}
	return nil
}

// NotificationRouter is the distribution entry point: it persists
// notifications and decides, per user and channel, between immediate
// delivery, batching, and suppression. Sends are fire-and-forget from the
// producer's perspective; outcomes land in the DeliveryTracker.
type NotificationRouter struct {
	repo     *repository.Repository
	resolver *PreferenceResolver
	tracker  *DeliveryTracker
	batches  *BatchScheduler
	gateway  Broadcaster
	adapters map[domain.Channel]notifier.ChannelAdapter
	loc      *time.Location
	clock    func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger

	sendTimeout time.Duration
}

func NewNotificationRouter(
	repo *repository.Repository,
	resolver *PreferenceResolver,
	tracker *DeliveryTracker,
	batches *BatchScheduler,
	gateway Broadcaster,
	adapters []notifier.ChannelAdapter,
	loc *time.Location,
	m *metrics.Metrics,
	logger *zap.Logger,
) *NotificationRouter {
	if loc == nil {
		loc = time.UTC
	}
	byChannel := make(map[domain.Channel]notifier.ChannelAdapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	return &NotificationRouter{
		repo:        repo,
		resolver:    resolver,
		tracker:     tracker,
		batches:     batches,
		gateway:     gateway,
		adapters:    byChannel,
		loc:         loc,
		clock:       time.Now,
		metrics:     m,
		logger:      logger,
		sendTimeout: 15 * time.Second,
	}
}

// Create routes one event to every target user. Users whose priority floor
// filters the event get no record at all; the returned slice may be empty.
func (r *NotificationRouter) Create(ctx context.Context, in CreateInput) ([]*domain.Notification, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	priority := in.Priority
	if priority == "" {
		priority = in.EventType.DefaultPriority()
	}

	created := make([]*domain.Notification, 0, len(in.UserIDs))
	for _, userID := range in.UserIDs {
		pref := r.resolver.Resolve(ctx, userID, in.EventType)
		if !pref.MeetsFloor(priority) {
			r.metrics.NotificationsSkipped.Inc()
			continue
		}

		n, err := r.repo.Notifications.Create(ctx, &domain.Notification{
			OrganizationID:  in.OrganizationID,
			UserID:          userID,
			EventType:       in.EventType,
			RelatedEntityID: in.RelatedEntityID,
			Title:           in.Title,
			Message:         in.Message,
			Priority:        priority,
			ActionURL:       in.ActionURL,
			ActionLabel:     in.ActionLabel,
			Icon:            in.Icon,
			GroupKey:        in.GroupKey,
			Status:          domain.StatusUnread,
			ExpiresAt:       in.ExpiresAt,
			Metadata:        domain.Metadata{Version: domain.MetadataVersion, Extra: in.Metadata},
		})
		if err != nil {
			// One bad target must not sink the rest of the fan-out.
			r.logger.Error("failed to persist notification",
				zap.String("user_id", userID),
				zap.String("event_type", string(in.EventType)),
				zap.Error(err))
			continue
		}
		r.metrics.NotificationsCreated.Inc()

		r.routeChannels(ctx, n, pref)
		created = append(created, n)
	}
	return created, nil
}

// routeChannels materializes deliveries per enabled channel. Channel-level
// failures are local: caught, recorded, never thrown back to the producer.
func (r *NotificationRouter) routeChannels(ctx context.Context, n *domain.Notification, pref *domain.NotificationPreference) {
	if pref.InApp.Enabled {
		if d, err := r.tracker.CreateDelivery(ctx, n.ID, domain.ChannelInApp); err != nil {
			r.logger.Error("failed to create in-app delivery", zap.Int64("notification_id", n.ID), zap.Error(err))
		} else {
			go r.deliverInApp(n, d)
		}
	}

	if pref.Email.Enabled {
		r.routeEmail(ctx, n, pref)
	}

	if pref.Push.Enabled {
		if d, err := r.tracker.CreateDelivery(ctx, n.ID, domain.ChannelPush); err != nil {
			r.logger.Error("failed to create push delivery", zap.Int64("notification_id", n.ID), zap.Error(err))
		} else {
			go r.dispatch(n, d)
		}
	}

	if pref.SMS.Enabled {
		if d, err := r.tracker.CreateDelivery(ctx, n.ID, domain.ChannelSMS); err != nil {
			r.logger.Error("failed to create sms delivery", zap.Int64("notification_id", n.ID), zap.Error(err))
		} else {
			go r.dispatch(n, d)
		}
	}
}

func (r *NotificationRouter) routeEmail(ctx context.Context, n *domain.Notification, pref *domain.NotificationPreference) {
	if pref.Email.Frequency != domain.FrequencyInstant {
		if err := r.batches.Enqueue(ctx, n.UserID, n.ID, pref.Email.Frequency); err != nil {
			r.logger.Error("failed to enqueue digest notification",
				zap.Int64("notification_id", n.ID),
				zap.String("frequency", string(pref.Email.Frequency)),
				zap.Error(err))
		}
		return
	}

	// Quiet hours suppress instant email entirely for this event; nothing is
	// queued and other channels are unaffected.
	if pref.Email.QuietHours.Contains(r.clock().In(r.loc)) {
		r.logger.Debug("instant email suppressed by quiet hours",
			zap.String("user_id", n.UserID),
			zap.Int64("notification_id", n.ID))
		return
	}

	if d, err := r.tracker.CreateDelivery(ctx, n.ID, domain.ChannelEmail); err != nil {
		r.logger.Error("failed to create email delivery", zap.Int64("notification_id", n.ID), zap.Error(err))
	} else {
		go r.dispatch(n, d)
	}
}

// deliverInApp pushes to live connections; with nobody connected the delivery
// stays pending and the gateway flushes it on the user's next connect.
func (r *NotificationRouter) deliverInApp(n *domain.Notification, d *domain.Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in in-app delivery", zap.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()

	if r.gateway != nil && r.gateway.BroadcastToUser(n.UserID, n) {
		if err := r.tracker.MarkDelivered(ctx, d); err != nil {
			r.logger.Error("failed to mark in-app delivery delivered",
				zap.Int64("delivery_id", d.ID),
				zap.Error(err))
		}
	}
}

// dispatch runs one transport send on its own goroutine so a slow provider
// never blocks connection management or the producer.
func (r *NotificationRouter) dispatch(n *domain.Notification, d *domain.Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in channel dispatch",
				zap.String("channel", string(d.Channel)),
				zap.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()

	adapter, ok := r.adapters[d.Channel]
	if !ok {
		r.tracker.RecordResult(ctx, d, nil, fmt.Errorf("%w: %s", xerrors.ErrUnknownChannel, d.Channel))
		return
	}

	res, err := adapter.Send(ctx, n, d)
	r.tracker.RecordResult(ctx, d, res, err)
}
