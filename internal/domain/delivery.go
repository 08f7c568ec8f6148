package domain

import "time"

// DeliveryStatus is the per-channel delivery lifecycle. Transitions only move
// forward along pending → sent → delivered → read/clicked, or to failed from
// any non-terminal state. Out-of-order transport webhooks are expected, so an
// invalid transition is a no-op, never an error.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryClicked   DeliveryStatus = "clicked"
	DeliveryFailed    DeliveryStatus = "failed"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
	DeliveryClicked:   3,
}

// Terminal reports whether no further transitions are allowed from s.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryRead, DeliveryClicked, DeliveryFailed:
		return true
	}
	return false
}

// CanTransition reports whether a delivery currently at from may move to to.
func CanTransition(from, to DeliveryStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == DeliveryFailed {
		return true
	}
	fr, ok := deliveryRank[from]
	if !ok {
		return false
	}
	tr, ok := deliveryRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// TransitionSources lists every status a delivery may legally move to target
// from. Used by the repository for compare-and-set updates.
func TransitionSources(target DeliveryStatus) []DeliveryStatus {
	var from []DeliveryStatus
	for _, s := range []DeliveryStatus{DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryRead, DeliveryClicked, DeliveryFailed} {
		if CanTransition(s, target) {
			from = append(from, s)
		}
	}
	return from
}

// Delivery is one tracked attempt to deliver one notification over one
// channel.
type Delivery struct {
	ID                int64          `json:"id"`
	NotificationID    int64          `json:"notification_id"`
	Channel           Channel        `json:"channel"`
	Status            DeliveryStatus `json:"status"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	ReadAt            *time.Time     `json:"read_at,omitempty"`
	ClickedAt         *time.Time     `json:"clicked_at,omitempty"`
	FailedAt          *time.Time     `json:"failed_at,omitempty"`
	AttemptCount      int            `json:"attempt_count"`
	LastError         *string        `json:"last_error,omitempty"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
