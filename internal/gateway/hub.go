package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/metrics"
	"crm-notification-service/internal/repository"
)

// DeliveryStore is what the hub needs from the delivery layer: backlog on
// connect and state advancement on ack.
type DeliveryStore interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
	PendingInApp(ctx context.Context, userID string) ([]*repository.InAppPending, error)
	AckInApp(ctx context.Context, userID string, notificationID int64) error
	MarkDelivered(ctx context.Context, d *domain.Delivery) error
}

// HubConfig tunes the presence timers. Zero values take the production
// defaults.
type HubConfig struct {
	HeartbeatInterval time.Duration
	PresenceDecayTick time.Duration
	AwayAfter         time.Duration
	OfflineGrace      time.Duration
}

func (c HubConfig) withDefaults() HubConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PresenceDecayTick <= 0 {
		c.PresenceDecayTick = 60 * time.Second
	}
	if c.AwayAfter <= 0 {
		c.AwayAfter = 5 * time.Minute
	}
	if c.OfflineGrace <= 0 {
		c.OfflineGrace = 30 * time.Second
	}
	return c
}

// Hub owns every live connection and the per-user presence derived from them.
// All of it is ephemeral: a restart drops the maps and clients reconnect.
type Hub struct {
	store   DeliveryStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     HubConfig
	clock   func() time.Time

	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	orgs     map[string]map[string]struct{}
	presence map[string]*domain.Presence
	offline  map[string]*time.Timer

	done chan struct{}
}

func NewHub(store DeliveryStore, m *metrics.Metrics, logger *zap.Logger, cfg HubConfig) *Hub {
	return &Hub{
		store:    store,
		metrics:  m,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		clients:  make(map[string]map[*Client]struct{}),
		orgs:     make(map[string]map[string]struct{}),
		presence: make(map[string]*domain.Presence),
		offline:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Run starts the heartbeat and presence decay sweeps. It blocks until Stop.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	decay := time.NewTicker(h.cfg.PresenceDecayTick)
	defer heartbeat.Stop()
	defer decay.Stop()

	for {
		select {
		case <-heartbeat.C:
			h.reapDead()
		case <-decay.C:
			h.decayPresence()
		case <-h.done:
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for c := range conns {
			c.conn.Close()
		}
	}
	for _, t := range h.offline {
		t.Stop()
	}
}

// NewClient wraps an upgraded connection. The caller registers it and starts
// the pumps.
func (h *Hub) NewClient(conn *websocket.Conn, userID, orgID string) *Client {
	return newClient(h, conn, userID, orgID)
}

// ServeClient registers the client and runs its pumps.
func (h *Hub) ServeClient(c *Client) {
	h.Register(c)
	go c.writePump()
	go c.readPump()
}

// Register adds a connection, brings the user online and flushes their
// backlog. A reconnect inside the offline grace window cancels the pending
// offline transition.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()

	if t, ok := h.offline[c.UserID]; ok {
		t.Stop()
		delete(h.offline, c.UserID)
	}

	conns, ok := h.clients[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.UserID] = conns
	}
	conns[c] = struct{}{}

	members, ok := h.orgs[c.OrgID]
	if !ok {
		members = make(map[string]struct{})
		h.orgs[c.OrgID] = members
	}
	members[c.UserID] = struct{}{}

	p, ok := h.presence[c.UserID]
	if !ok {
		p = &domain.Presence{UserID: c.UserID}
		h.presence[c.UserID] = p
	}
	wasOnline := p.Status == domain.PresenceOnline
	p.Status = domain.PresenceOnline
	p.ConnectionCount = len(conns)
	p.LastSeen = h.clock()

	h.mu.Unlock()

	h.metrics.LiveConnections.Inc()
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.String("org_id", c.OrgID))

	if !wasOnline {
		h.broadcastPresence(c.OrgID, c.UserID, domain.PresenceOnline)
	}
	go h.flushBacklog(c)
}

// Unregister drops a connection. The user goes offline only after the grace
// window passes with no reconnect.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()

	conns, ok := h.clients[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	c.shutdown()

	last := len(conns) == 0
	if last {
		delete(h.clients, c.UserID)
	}
	if p, ok := h.presence[c.UserID]; ok {
		p.ConnectionCount = len(conns)
		p.LastSeen = h.clock()
	}
	if last {
		if t, ok := h.offline[c.UserID]; ok {
			t.Stop()
		}
		h.offline[c.UserID] = time.AfterFunc(h.cfg.OfflineGrace, func() {
			h.goOffline(c.UserID, c.OrgID)
		})
	}

	h.mu.Unlock()

	h.metrics.LiveConnections.Dec()
	h.logger.Info("WebSocket client disconnected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.UserID))
}

func (h *Hub) goOffline(userID, orgID string) {
	h.mu.Lock()
	delete(h.offline, userID)
	if _, connected := h.clients[userID]; connected {
		h.mu.Unlock()
		return
	}
	delete(h.presence, userID)
	if members, ok := h.orgs[orgID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.orgs, orgID)
		}
	}
	h.mu.Unlock()

	h.broadcastPresence(orgID, userID, domain.PresenceOffline)
}

// touch records proof of life for a user, pulling them back from away.
func (h *Hub) touch(userID string) {
	h.mu.Lock()
	p, ok := h.presence[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	p.LastSeen = h.clock()
	backOnline := p.Status == domain.PresenceAway
	if backOnline {
		p.Status = domain.PresenceOnline
	}
	orgID := h.orgForUser(userID)
	h.mu.Unlock()

	if backOnline {
		h.broadcastPresence(orgID, userID, domain.PresenceOnline)
	}
}

// orgForUser must be called with h.mu held.
func (h *Hub) orgForUser(userID string) string {
	for c := range h.clients[userID] {
		return c.OrgID
	}
	return ""
}

// BroadcastToUser fans a notification out to every live connection of one
// user. It reports whether at least one connection took the frame; with
// nobody connected the caller leaves the delivery pending.
func (h *Hub) BroadcastToUser(userID string, n *domain.Notification) bool {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range conns {
		if c.SendFrame(domain.MsgNotification, n) {
			delivered = true
		}
	}
	return delivered
}

// BroadcastToOrganization sends a notification to every connected member of
// an organization, optionally excluding one user (usually the actor who
// triggered the event). Returns the number of users reached.
func (h *Hub) BroadcastToOrganization(orgID, excludeUserID string, n *domain.Notification) int {
	h.mu.RLock()
	users := make([]string, 0, len(h.orgs[orgID]))
	for userID := range h.orgs[orgID] {
		if userID == excludeUserID {
			continue
		}
		users = append(users, userID)
	}
	h.mu.RUnlock()

	reached := 0
	for _, userID := range users {
		if h.BroadcastToUser(userID, n) {
			reached++
		}
	}
	return reached
}

// Presence reports a user's aggregate state; users the hub has never seen or
// that timed out read as offline.
func (h *Hub) Presence(userID string) domain.Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if p, ok := h.presence[userID]; ok {
		return *p
	}
	return domain.Presence{UserID: userID, Status: domain.PresenceOffline}
}

// ConnectedUsers returns how many distinct users hold at least one
// connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastPresence(orgID, userID string, status domain.PresenceStatus) {
	if orgID == "" {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0)
	for member := range h.orgs[orgID] {
		if member == userID {
			continue
		}
		for c := range h.clients[member] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	payload := &domain.PresencePayload{UserID: userID, Status: status}
	for _, c := range targets {
		c.SendFrame(domain.MsgPresence, payload)
	}
}

// flushBacklog sends the unread count and replays pending in-app deliveries
// accumulated while the user was away.
func (h *Hub) flushBacklog(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := h.store.UnreadCount(ctx, c.UserID)
	if err != nil {
		h.logger.Error("Failed to load unread count",
			zap.String("user_id", c.UserID),
			zap.Error(err))
	} else {
		c.SendFrame(domain.MsgUnreadCount, &domain.UnreadCountPayload{Count: count})
	}

	pending, err := h.store.PendingInApp(ctx, c.UserID)
	if err != nil {
		h.logger.Error("Failed to load pending deliveries",
			zap.String("user_id", c.UserID),
			zap.Error(err))
		return
	}
	for _, p := range pending {
		if !c.SendFrame(domain.MsgNotification, p.Notification) {
			continue
		}
		if err := h.store.MarkDelivered(ctx, p.Delivery); err != nil {
			h.logger.Error("Failed to mark backlog delivery delivered",
				zap.Int64("delivery_id", p.Delivery.ID),
				zap.Error(err))
		}
	}
}

// reapDead closes connections that never answered the last ping. Closing the
// conn makes readPump exit, which unregisters the client.
func (h *Hub) reapDead() {
	h.mu.RLock()
	dead := make([]*Client, 0)
	for _, conns := range h.clients {
		for c := range conns {
			if !c.isAlive() {
				dead = append(dead, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.logger.Warn("Closing unresponsive client",
			zap.String("client_id", c.ID),
			zap.String("user_id", c.UserID))
		c.conn.Close()
	}
}

// decayPresence demotes users to away once they have been silent too long.
func (h *Hub) decayPresence() {
	cutoff := h.clock().Add(-h.cfg.AwayAfter)

	h.mu.Lock()
	type change struct{ userID, orgID string }
	changes := make([]change, 0)
	for userID, p := range h.presence {
		if p.Status == domain.PresenceOnline && p.LastSeen.Before(cutoff) {
			p.Status = domain.PresenceAway
			changes = append(changes, change{userID, h.orgForUser(userID)})
		}
	}
	h.mu.Unlock()

	for _, ch := range changes {
		h.broadcastPresence(ch.orgID, ch.userID, domain.PresenceAway)
	}
}

// handleMessage routes one inbound frame. Malformed or unknown frames get an
// error frame back; the connection is never closed for them.
func (h *Hub) handleMessage(c *Client, data []byte) {
	var msg domain.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("Malformed WebSocket frame",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.SendError("invalid_frame", "frame is not valid JSON")
		return
	}

	switch msg.Type {
	case domain.MsgPing:
		h.touch(c.UserID)
		c.SendFrame(domain.MsgPong, nil)

	case domain.MsgAck:
		var p domain.AckPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.NotificationID == 0 {
			c.SendError("invalid_payload", "ack requires a notificationId")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.store.AckInApp(ctx, c.UserID, p.NotificationID); err != nil {
			h.logger.Error("Failed to ack delivery",
				zap.Int64("notification_id", p.NotificationID),
				zap.String("user_id", c.UserID),
				zap.Error(err))
			c.SendError("ack_failed", "could not acknowledge notification")
			return
		}
		if count, err := h.store.UnreadCount(ctx, c.UserID); err == nil {
			c.SendFrame(domain.MsgUnreadCount, &domain.UnreadCountPayload{Count: count})
		}

	case domain.MsgSubscribe:
		var p domain.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.SendError("invalid_payload", "subscribe requires a topics list")
			return
		}
		c.subscribe(p.Topics)

	case domain.MsgUnsubscribe:
		var p domain.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.SendError("invalid_payload", "unsubscribe requires a topics list")
			return
		}
		c.unsubscribe(p.Topics)

	default:
		c.SendError("unknown_type", "unknown message type: "+msg.Type)
	}
}
