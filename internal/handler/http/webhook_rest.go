package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/usecase"
	"crm-notification-service/pkg/response"
	"crm-notification-service/pkg/xerrors"
)

// WebhookHandler terminates provider delivery callbacks (email delivery
// reports, bounces, push receipts). Covered by service auth.
type WebhookHandler struct {
	tracker *usecase.DeliveryTracker
}

func NewWebhookHandler(tracker *usecase.DeliveryTracker) *WebhookHandler {
	return &WebhookHandler{tracker: tracker}
}

func (h *WebhookHandler) HandleProviderEvent(w http.ResponseWriter, r *http.Request) {
	channel := domain.Channel(chi.URLParam(r, "channel"))
	if !channel.Valid() {
		response.Error(w, http.StatusBadRequest, "unknown channel")
		return
	}

	var ev usecase.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid input")
		return
	}
	ev.Channel = channel

	if err := h.tracker.HandleWebhookEvent(r.Context(), ev); err != nil {
		if errors.Is(err, xerrors.ErrInvalidInput) {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
