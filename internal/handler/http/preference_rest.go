package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/handler/middleware"
	"crm-notification-service/internal/usecase"
	"crm-notification-service/pkg/response"
	"crm-notification-service/pkg/xerrors"
)

type PreferenceHandler struct {
	resolver *usecase.PreferenceResolver
}

func NewPreferenceHandler(resolver *usecase.PreferenceResolver) *PreferenceHandler {
	return &PreferenceHandler{resolver: resolver}
}

// ----------------------
// Preference Handlers
// ----------------------

func (h *PreferenceHandler) ListPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	prefs, err := h.resolver.ListByUser(r.Context(), userID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusOK, prefs)
}

// GetPreference returns the effective preference for one event type. Users
// with no stored row get the computed default.
func (h *PreferenceHandler) GetPreference(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	eventType := domain.EventType(chi.URLParam(r, "eventType"))

	pref, err := h.resolver.Get(r.Context(), userID, eventType)
	if err != nil {
		if errors.Is(err, xerrors.ErrUnknownEventType) {
			response.Error(w, http.StatusBadRequest, "unknown event type")
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusOK, pref)
}

func (h *PreferenceHandler) UpsertPreference(w http.ResponseWriter, r *http.Request) {
	var pref domain.NotificationPreference
	if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid input")
		return
	}

	userID, _ := middleware.GetUserID(r.Context())
	pref.UserID = userID

	saved, err := h.resolver.Upsert(r.Context(), &pref)
	if err != nil {
		if errors.Is(err, xerrors.ErrInvalidInput) || errors.Is(err, xerrors.ErrUnknownEventType) {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusOK, saved)
}

// ----------------------
// Push subscription Handlers
// ----------------------

func (h *PreferenceHandler) RegisterSubscription(w http.ResponseWriter, r *http.Request) {
	var sub domain.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid input")
		return
	}

	userID, _ := middleware.GetUserID(r.Context())
	sub.UserID = userID

	saved, err := h.resolver.RegisterPushSubscription(r.Context(), &sub)
	if err != nil {
		if errors.Is(err, xerrors.ErrInvalidInput) {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusCreated, saved)
}

func (h *PreferenceHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	subs, err := h.resolver.ListPushSubscriptions(r.Context(), userID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.JSON(w, http.StatusOK, subs)
}

func (h *PreferenceHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	endpoint, err := url.QueryUnescape(r.URL.Query().Get("endpoint"))
	if err != nil || endpoint == "" {
		response.Error(w, http.StatusBadRequest, "endpoint query parameter required")
		return
	}

	if err := h.resolver.RemovePushSubscription(r.Context(), userID, endpoint); err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "subscription not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
