package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/handler/middleware"
	"crm-notification-service/internal/repository"
	"crm-notification-service/internal/usecase"
	"crm-notification-service/pkg/response"
	"crm-notification-service/pkg/xerrors"
)

type NotificationHandler struct {
	router  *usecase.NotificationRouter
	tracker *usecase.DeliveryTracker
}

func NewNotificationHandler(
	router *usecase.NotificationRouter,
	tracker *usecase.DeliveryTracker,
) *NotificationHandler {
	return &NotificationHandler{
		router:  router,
		tracker: tracker,
	}
}

// ----------------------
// Producer endpoint
// ----------------------

// CreateNotification is the internal entry point other services call to fan
// an event out. It is covered by service auth, not user auth.
func (h *NotificationHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var in usecase.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid input")
		return
	}

	created, err := h.router.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, xerrors.ErrInvalidInput) || errors.Is(err, xerrors.ErrUnknownEventType) {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusCreated, created)
}

// ----------------------
// Notification Handlers
// ----------------------

func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, err := h.tracker.ListNotifications(r.Context(), userID, repository.ListFilter{
		Status: domain.NotificationStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusOK, items)
}

func (h *NotificationHandler) CountUnread(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	count, err := h.tracker.UnreadCount(r.Context(), userID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	userID, _ := middleware.GetUserID(r.Context())

	if err := h.tracker.MarkNotificationRead(r.Context(), id, userID); err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "notification not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) ArchiveNotification(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	userID, _ := middleware.GetUserID(r.Context())

	if err := h.tracker.ArchiveNotification(r.Context(), id, userID); err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "notification not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) SnoozeNotification(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	userID, _ := middleware.GetUserID(r.Context())

	var body struct {
		SnoozedUntil time.Time `json:"snoozed_until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid input")
		return
	}

	if err := h.tracker.SnoozeNotification(r.Context(), id, userID, body.SnoozedUntil); err != nil {
		switch {
		case errors.Is(err, xerrors.ErrNotFound):
			response.Error(w, http.StatusNotFound, "notification not found")
		case errors.Is(err, xerrors.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, err.Error())
		default:
			response.Error(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	userID, _ := middleware.GetUserID(r.Context())

	items, err := h.tracker.ListDeliveries(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "notification not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusOK, items)
}
