package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	hrest "crm-notification-service/internal/handler/http"
	"crm-notification-service/internal/handler/middleware"
	wshandler "crm-notification-service/internal/handler/ws"
)

// SetupRoutes configures the HTTP routes for the notification service
func SetupRoutes(
	r chi.Router,
	nh *hrest.NotificationHandler,
	ph *hrest.PreferenceHandler,
	wh *hrest.WebhookHandler,
	wsHandler *wshandler.WSHandler,
	auth *middleware.AuthMiddleware,
	rdb *redis.Client,
	registry *prometheus.Registry,
) chi.Router {
	// ---- Global Middleware ----
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Service-Token",
		},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.RateLimiter(rdb, 300, time.Minute, 10*time.Minute, "global"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// ============================================================
	// Internal Routes (service-to-service)
	// ============================================================
	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(auth.ServiceAuth)

		r.Post("/notifications", nh.CreateNotification)
		r.Post("/webhooks/{channel}", wh.HandleProviderEvent)
	})

	// ============================================================
	// User Routes (all require auth)
	// ============================================================
	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/", nh.ListNotifications)
		r.Get("/unread/count", nh.CountUnread)
		r.Patch("/{id}/read", nh.MarkAsRead)
		r.Patch("/{id}/archive", nh.ArchiveNotification)
		r.Patch("/{id}/snooze", nh.SnoozeNotification)
		r.Get("/{id}/deliveries", nh.ListDeliveries)

		r.Get("/preferences", ph.ListPreferences)
		r.Get("/preferences/{eventType}", ph.GetPreference)
		r.Post("/preferences", ph.UpsertPreference)

		r.Post("/subscriptions", ph.RegisterSubscription)
		r.Get("/subscriptions", ph.ListSubscriptions)
		r.Delete("/subscriptions", ph.DeleteSubscription)

		// WebSocket endpoint
		r.Get("/ws", wsHandler.HandleNotifications)
	})
	return r
}
