package domain

import (
	"encoding/json"
	"time"
)

// Websocket frame types exchanged with connected clients. Every frame is a
// tagged JSON object; unknown or malformed frames are answered with an error
// frame and the connection stays open.
const (
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
	MsgNotification = "notification"
	MsgPing         = "ping"
	MsgPong         = "pong"
	MsgAck          = "ack"
	MsgError        = "error"
	MsgUnreadCount  = "unread_count"
	MsgPresence     = "presence"
)

// WSMessage is the wire envelope for both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AckPayload acknowledges receipt of one notification.
type AckPayload struct {
	NotificationID int64 `json:"notificationId"`
}

// SubscribePayload names the topics (group keys) a client wants org-level
// announcements for.
type SubscribePayload struct {
	Topics []string `json:"topics"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UnreadCountPayload struct {
	Count int `json:"count"`
}

// PresenceStatus is a user's derived online state, computed from their live
// connections.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// Presence is the per-user aggregate the gateway maintains in memory. It is a
// cache: a process restart loses it and clients simply reconnect.
type Presence struct {
	UserID          string         `json:"user_id"`
	Status          PresenceStatus `json:"status"`
	ConnectionCount int            `json:"connection_count"`
	LastSeen        time.Time      `json:"last_seen"`
}

type PresencePayload struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}
