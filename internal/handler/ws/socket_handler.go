package wshandler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crm-notification-service/internal/gateway"
	"crm-notification-service/internal/handler/middleware"
)

type WSHandler struct {
	hub    *gateway.Hub
	logger *zap.Logger
}

func NewWSHandler(hub *gateway.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: tighten with allowed origins if needed
		return true
	},
}

// HandleNotifications upgrades HTTP -> WebSocket and hands the connection to
// the hub.
func (h *WSHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	orgID, _ := middleware.GetOrgID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	client := h.hub.NewClient(conn, userID, orgID)
	h.hub.ServeClient(client)
}
