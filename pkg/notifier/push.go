package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/xerrors"
)

// pushPayload is what the service worker receives.
type pushPayload struct {
	NotificationID int64           `json:"notification_id"`
	EventType      domain.EventType `json:"event_type"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Priority       domain.Priority `json:"priority"`
	ActionURL      *string         `json:"action_url,omitempty"`
	Icon           *string         `json:"icon,omitempty"`
	GroupKey       *string         `json:"group_key,omitempty"`
}

// sendFunc performs one Web Push request and returns the transport status
// code. Swappable in tests.
type sendFunc func(ctx context.Context, payload []byte, sub *domain.PushSubscription) (int, error)

// PushAdapter fans one notification out to every active Web Push subscription
// the user has. An endpoint the transport reports gone (404/410) is
// deactivated so future sends skip it; the overall send fails only when no
// endpoint accepted the message.
type PushAdapter struct {
	subs   repository.SubscriptionRepository
	send   sendFunc
	logger *zap.Logger
}

func NewPushAdapter(vapidPublic, vapidPrivate, subscriber string, subs repository.SubscriptionRepository, logger *zap.Logger) *PushAdapter {
	send := func(ctx context.Context, payload []byte, sub *domain.PushSubscription) (int, error) {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dhKey,
				Auth:   sub.AuthKey,
			},
		}, &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
			TTL:             3600,
		})
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return resp.StatusCode, nil
	}
	return &PushAdapter{subs: subs, send: send, logger: logger}
}

func (p *PushAdapter) Channel() domain.Channel { return domain.ChannelPush }

// subscriptionGone reports whether the push service says the endpoint no
// longer exists.
func subscriptionGone(statusCode int) bool {
	return statusCode == http.StatusNotFound || statusCode == http.StatusGone
}

func (p *PushAdapter) Send(ctx context.Context, n *domain.Notification, _ *domain.Delivery) (*Result, error) {
	subs, err := p.subs.ListActiveByUser(ctx, n.UserID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("user %s: %w", n.UserID, xerrors.ErrNoSubscriptions)
	}

	payload, err := json.Marshal(pushPayload{
		NotificationID: n.ID,
		EventType:      n.EventType,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
		ActionURL:      n.ActionURL,
		Icon:           n.Icon,
		GroupKey:       n.GroupKey,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var lastErr error
	for _, sub := range subs {
		status, err := p.send(ctx, payload, sub)
		if err != nil {
			result.Failed++
			lastErr = err
			p.logger.Warn("push send failed",
				zap.String("user_id", n.UserID),
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err))
			continue
		}
		if subscriptionGone(status) {
			result.Failed++
			lastErr = fmt.Errorf("push endpoint gone (%d)", status)
			if derr := p.subs.Deactivate(ctx, sub.ID); derr != nil {
				p.logger.Warn("failed to deactivate dead subscription",
					zap.Int64("subscription_id", sub.ID),
					zap.Error(derr))
			} else {
				p.logger.Info("deactivated dead push subscription",
					zap.String("user_id", n.UserID),
					zap.Int64("subscription_id", sub.ID))
			}
			continue
		}
		if status < 200 || status >= 300 {
			result.Failed++
			lastErr = fmt.Errorf("push service returned %d", status)
			continue
		}
		result.Sent++
	}

	if result.Sent == 0 {
		return result, fmt.Errorf("all %d push endpoints failed: %w", result.Failed, lastErr)
	}
	return result, nil
}
