package notifier

import (
	"context"

	"crm-notification-service/internal/domain"
)

// Result reports what a transport did with one send. ProviderMessageID lets
// later webhook callbacks find the delivery row. Sent/Failed are per-endpoint
// counts for fan-out channels (push across devices); single-endpoint channels
// leave them at 1/0.
type Result struct {
	ProviderMessageID string
	Sent              int
	Failed            int
}

// ChannelAdapter is the contract every outbound transport implements. The
// router and tracker depend on this interface, never on a concrete transport;
// adding a channel means adding an adapter to the fixed map, not another
// branch in the router.
type ChannelAdapter interface {
	Channel() domain.Channel
	Send(ctx context.Context, n *domain.Notification, d *domain.Delivery) (*Result, error)
}

// DigestSender is the slice of the email transport the batch scheduler needs:
// one rendered digest per batch, no per-notification delivery rows.
type DigestSender interface {
	SendDigest(ctx context.Context, userID, subject, htmlBody string) error
}

// Directory resolves user ids to contact addresses. It is owned by the
// identity collaborator; this service only consumes it.
type Directory interface {
	Email(ctx context.Context, userID string) (string, error)
	Phone(ctx context.Context, userID string) (string, error)
}
