package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one WebSocket connection. A user may hold several at once
// (browser tabs, mobile); the hub aggregates them into a single presence.
type Client struct {
	ID     string
	UserID string
	OrgID  string

	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.Mutex
	alive  bool
	closed bool
	topics map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, userID, orgID string) *Client {
	return &Client{
		ID:     ulid.Make().String(),
		UserID: userID,
		OrgID:  orgID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
		alive:  true,
		topics: make(map[string]struct{}),
	}
}

func (c *Client) markAlive(v bool) {
	c.mu.Lock()
	c.alive = v
	c.mu.Unlock()
}

func (c *Client) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Client) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
}

func (c *Client) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
	}
}

// readPump pumps frames from the connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.markAlive(true)
		c.hub.touch(c.UserID)
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket error",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}

		c.hub.handleMessage(c, message)
	}
}

// writePump pumps frames from the hub to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// A peer that never answers the ping is reaped by the next
			// heartbeat sweep.
			c.markAlive(false)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// shutdown closes the send channel exactly once. Sends are serialized with
// the close through c.mu, so frames racing a disconnect become no-ops
// instead of panics.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// enqueue drops the frame when the client is gone or its buffer is full
// rather than blocking the hub; a reader that slow is as good as gone.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.hub.logger.Warn("Client send buffer full",
			zap.String("client_id", c.ID),
			zap.String("user_id", c.UserID))
		return false
	}
}

// SendFrame marshals and enqueues one envelope.
func (c *Client) SendFrame(msgType string, payload interface{}) bool {
	msg := domain.WSMessage{
		Type:      msgType,
		MessageID: ulid.Make().String(),
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.hub.logger.Error("Failed to marshal frame payload",
				zap.String("client_id", c.ID),
				zap.String("type", msgType),
				zap.Error(err))
			return false
		}
		msg.Payload = data
	}

	raw, err := json.Marshal(&msg)
	if err != nil {
		c.hub.logger.Error("Failed to marshal frame",
			zap.String("client_id", c.ID),
			zap.Error(err))
		return false
	}
	return c.enqueue(raw)
}

// SendError sends an error frame; the connection stays open.
func (c *Client) SendError(code, message string) {
	c.SendFrame(domain.MsgError, &domain.ErrorPayload{
		Code:    code,
		Message: message,
	})
}
