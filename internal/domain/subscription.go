package domain

import "time"

// PushSubscription is one browser/device Web Push endpoint for a user.
// Deactivated (never deleted) when the push transport reports the endpoint
// gone, so future sends skip it.
type PushSubscription struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
