package domain

import (
	"fmt"
	"time"
)

// Frequency controls how email for an event type is timed.
type Frequency string

const (
	FrequencyInstant Frequency = "instant"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyInstant, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// QuietHours is a daily wall-clock window during which instant email is
// suppressed. Start and End are "HH:MM"; Start > End means the window spans
// midnight (e.g. 22:00–08:00).
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value out of range: %s", s)
	}
	return h*60 + m, nil
}

func (q *QuietHours) Validate() error {
	if _, err := parseClock(q.Start); err != nil {
		return fmt.Errorf("quiet hours start: %w", err)
	}
	if _, err := parseClock(q.End); err != nil {
		return fmt.Errorf("quiet hours end: %w", err)
	}
	return nil
}

// Contains reports whether now falls inside [Start, End) in now's location.
// A malformed window never suppresses anything.
func (q *QuietHours) Contains(now time.Time) bool {
	if q == nil {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start == end {
		return false
	}
	if start < end {
		return cur >= start && cur < end
	}
	// spans midnight
	return cur >= start || cur < end
}

// InAppSettings configures the in-app (websocket) channel.
type InAppSettings struct {
	Enabled bool `json:"enabled"`
}

// EmailSettings configures the email channel for one event type.
type EmailSettings struct {
	Enabled    bool        `json:"enabled"`
	Frequency  Frequency   `json:"frequency"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
}

// PushSettings configures the Web Push channel.
type PushSettings struct {
	Enabled bool `json:"enabled"`
}

// SMSSettings configures the SMS channel.
type SMSSettings struct {
	Enabled bool `json:"enabled"`
}

// NotificationPreference holds one user's channel configuration for one event
// type. Per-channel settings are closed structs so additions are
// compile-time-checked rather than loose maps.
type NotificationPreference struct {
	ID          int64         `json:"id,omitempty"`
	UserID      string        `json:"user_id"`
	EventType   EventType     `json:"event_type"`
	InApp       InAppSettings `json:"in_app"`
	Email       EmailSettings `json:"email"`
	Push        PushSettings  `json:"push"`
	SMS         SMSSettings   `json:"sms"`
	MinPriority Priority      `json:"min_priority"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
}

// DefaultPreference computes the preference used when a user has never
// configured the event type. Critical (failure-like / high-value) events get
// instant email and push; everything else lands in-app plus a daily email
// digest.
func DefaultPreference(userID string, eventType EventType) *NotificationPreference {
	p := &NotificationPreference{
		UserID:      userID,
		EventType:   eventType,
		InApp:       InAppSettings{Enabled: true},
		MinPriority: PriorityLow,
	}
	if eventType.Critical() {
		p.Email = EmailSettings{Enabled: true, Frequency: FrequencyInstant}
		p.Push = PushSettings{Enabled: true}
	} else {
		p.Email = EmailSettings{Enabled: true, Frequency: FrequencyDaily}
		p.Push = PushSettings{Enabled: false}
	}
	p.SMS = SMSSettings{Enabled: false}
	return p
}

// EnabledFor reports whether a channel is switched on in this preference.
func (p *NotificationPreference) EnabledFor(c Channel) bool {
	switch c {
	case ChannelInApp:
		return p.InApp.Enabled
	case ChannelEmail:
		return p.Email.Enabled
	case ChannelPush:
		return p.Push.Enabled
	case ChannelSMS:
		return p.SMS.Enabled
	}
	return false
}

// MeetsFloor reports whether a notification priority clears the user's
// minimum-priority floor.
func (p *NotificationPreference) MeetsFloor(priority Priority) bool {
	return priority.Rank() >= p.MinPriority.Rank()
}
