package domain

import "time"

// EventType is the closed set of CRM events that can produce notifications.
type EventType string

const (
	EventLeadCreated       EventType = "lead.created"
	EventLeadAssigned      EventType = "lead.assigned"
	EventDealWon           EventType = "deal.won"
	EventDealLost          EventType = "deal.lost"
	EventTicketCreated     EventType = "ticket.created"
	EventTicketSLABreached EventType = "ticket.sla_breached"
	EventPaymentFailed     EventType = "payment.failed"
	EventPaymentReceived   EventType = "payment.received"
	EventTaskDue           EventType = "task.due"
	EventMentionCreated    EventType = "mention.created"
)

var allEventTypes = map[EventType]struct{}{
	EventLeadCreated:       {},
	EventLeadAssigned:      {},
	EventDealWon:           {},
	EventDealLost:          {},
	EventTicketCreated:     {},
	EventTicketSLABreached: {},
	EventPaymentFailed:     {},
	EventPaymentReceived:   {},
	EventTaskDue:           {},
	EventMentionCreated:    {},
}

func (e EventType) Valid() bool {
	_, ok := allEventTypes[e]
	return ok
}

// Critical event types get instant+enabled channel defaults when the user has
// never configured a preference for them.
func (e EventType) Critical() bool {
	switch e {
	case EventDealWon, EventTicketSLABreached, EventPaymentFailed:
		return true
	}
	return false
}

// DefaultPriority is used when a producer omits priority for an event.
func (e EventType) DefaultPriority() Priority {
	switch e {
	case EventTicketSLABreached, EventPaymentFailed:
		return PriorityUrgent
	case EventDealWon, EventTaskDue:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank orders priorities for floor comparisons and digest grouping.
// Unknown values rank below low.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// NotificationStatus is the user-facing lifecycle of a notification.
type NotificationStatus string

const (
	StatusUnread   NotificationStatus = "unread"
	StatusRead     NotificationStatus = "read"
	StatusArchived NotificationStatus = "archived"
	StatusSnoozed  NotificationStatus = "snoozed"
)

func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusArchived, StatusSnoozed:
		return true
	}
	return false
}

// Channel is one delivery mechanism.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

var AllChannels = []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS}

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS:
		return true
	}
	return false
}

// Metadata is the closed, versioned metadata structure carried on a
// notification. Extra holds flat producer-supplied strings; anything that
// needs structure gets its own field and a version bump.
type Metadata struct {
	Version    int               `json:"version"`
	EntityKind string            `json:"entity_kind,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

const MetadataVersion = 1

type Notification struct {
	ID              int64              `json:"id"`
	OrganizationID  string             `json:"organization_id"`
	UserID          string             `json:"user_id"`
	EventType       EventType          `json:"event_type"`
	RelatedEntityID *string            `json:"related_entity_id,omitempty"`
	Title           string             `json:"title"`
	Message         string             `json:"message"`
	Priority        Priority           `json:"priority"`
	ActionURL       *string            `json:"action_url,omitempty"`
	ActionLabel     *string            `json:"action_label,omitempty"`
	Icon            *string            `json:"icon,omitempty"`
	GroupKey        *string            `json:"group_key,omitempty"`
	Status          NotificationStatus `json:"status"`
	SnoozedUntil    *time.Time         `json:"snoozed_until,omitempty"`
	ExpiresAt       *time.Time         `json:"expires_at,omitempty"`
	Metadata        Metadata           `json:"metadata"`
	CreatedAt       time.Time          `json:"created_at"`
}

func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// SnoozedInFuture reports whether the notification is hidden by an active
// snooze. A snooze in the past leaves the notification visible again.
func (n *Notification) SnoozedInFuture(now time.Time) bool {
	return n.Status == StatusSnoozed && n.SnoozedUntil != nil && now.Before(*n.SnoozedUntil)
}
