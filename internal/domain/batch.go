package domain

import "time"

type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchSent    BatchStatus = "sent"
	BatchFailed  BatchStatus = "failed"
)

// NotificationBatch is a pending digest for one (user, frequency) pair. At
// most one pending batch exists per pair; new notifications append to it.
// Once sent or failed it is closed for good and a fresh batch is opened
// lazily on the next enqueue.
type NotificationBatch struct {
	ID              int64       `json:"id"`
	UserID          string      `json:"user_id"`
	Frequency       Frequency   `json:"frequency"`
	NotificationIDs []int64     `json:"notification_ids"`
	ScheduledFor    time.Time   `json:"scheduled_for"`
	Status          BatchStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
}

// Contains reports whether the batch already references the notification.
func (b *NotificationBatch) Contains(notificationID int64) bool {
	for _, id := range b.NotificationIDs {
		if id == notificationID {
			return true
		}
	}
	return false
}

const digestHour = 9 // local-reference-time hour for daily/weekly digests

// NextScheduleAt computes when a batch opened at now should flush:
// hourly at the next hour boundary, daily tomorrow 09:00, weekly next Monday
// 09:00, all in now's location. Instant frequency never batches; if it shows
// up here anyway it gets the hourly boundary.
func NextScheduleAt(freq Frequency, now time.Time) time.Time {
	switch freq {
	case FrequencyDaily:
		tomorrow := now.AddDate(0, 0, 1)
		return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), digestHour, 0, 0, 0, now.Location())
	case FrequencyWeekly:
		daysAhead := (int(time.Monday) - int(now.Weekday()) + 7) % 7
		if daysAhead == 0 {
			daysAhead = 7
		}
		next := now.AddDate(0, 0, daysAhead)
		return time.Date(next.Year(), next.Month(), next.Day(), digestHour, 0, 0, 0, now.Location())
	default:
		return now.Truncate(time.Hour).Add(time.Hour)
	}
}
