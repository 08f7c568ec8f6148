package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"crm-notification-service/internal/config"
	"crm-notification-service/internal/gateway"
	hrest "crm-notification-service/internal/handler/http"
	"crm-notification-service/internal/handler/middleware"
	wshandler "crm-notification-service/internal/handler/ws"
	"crm-notification-service/internal/metrics"
	"crm-notification-service/internal/repository"
	"crm-notification-service/internal/router"
	"crm-notification-service/internal/usecase"
	"crm-notification-service/pkg/directory"
	"crm-notification-service/pkg/notifier"
	"crm-notification-service/pkg/template"
)

// Server bundles the HTTP listener with the background machinery that has to
// start and stop with it.
type Server struct {
	http *http.Server
	hub  *gateway.Hub
	cron *cron.Cron
	pool *pgxpool.Pool
	rdb  *redis.Client

	logger *zap.Logger
}

func NewServer(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	// --- DB connection ---
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// --- Init repos ---
	repo := repository.New(pool)

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// --- Auth middleware ---
	auth := middleware.NewAuthMiddleware(cfg.JWTSecret, cfg.ServiceToken)

	// --- Contact directory + templates ---
	dir := directory.NewClient(cfg.IdentityBaseURL, cfg.ServiceToken)
	tmpl := template.NewService()

	// --- Channel adapters ---
	emailAdapter := notifier.NewEmailAdapter(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, dir, tmpl, logger)
	smsAdapter := notifier.NewSMSAdapter(cfg.SMSBaseURL, cfg.SMSAPIKey, cfg.SMSSenderID, dir, logger)
	pushAdapter := notifier.NewPushAdapter(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, repo.Subscriptions, logger)

	// --- Usecases ---
	loc := cfg.Location()
	tracker := usecase.NewDeliveryTracker(repo, m, logger, cfg.HardBounceThreshold)
	resolver := usecase.NewPreferenceResolver(repo, logger)
	batches := usecase.NewBatchScheduler(repo, emailAdapter, tmpl, loc, m, logger)

	// --- Realtime hub ---
	hub := gateway.NewHub(tracker, m, logger, gateway.HubConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		PresenceDecayTick: cfg.PresenceDecayTick,
		AwayAfter:         cfg.AwayAfter,
		OfflineGrace:      cfg.OfflineGrace,
	})
	go hub.Run()

	notifRouter := usecase.NewNotificationRouter(
		repo, resolver, tracker, batches, hub,
		[]notifier.ChannelAdapter{emailAdapter, smsAdapter, pushAdapter},
		loc, m, logger,
	)

	// --- Handlers ---
	nh := hrest.NewNotificationHandler(notifRouter, tracker)
	ph := hrest.NewPreferenceHandler(resolver)
	wh := hrest.NewWebhookHandler(tracker)
	wsHandler := wshandler.NewWSHandler(hub, logger)

	// --- Digest cron ---
	c := cron.New()
	if _, err := c.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()
		if err := batches.ProcessDue(ctx); err != nil {
			logger.Error("digest batch run failed", zap.Error(err))
		}
	}); err != nil {
		pool.Close()
		return nil, err
	}
	c.Start()

	// --- HTTP routes ---
	r := chi.NewRouter()
	router.SetupRoutes(r, nh, ph, wh, wsHandler, auth, rdb, registry)

	return &Server{
		http:   &http.Server{Addr: cfg.HTTPAddr, Handler: r},
		hub:    hub,
		cron:   c,
		pool:   pool,
		rdb:    rdb,
		logger: logger,
	}, nil
}

func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown stops the listener, the digest cron and the hub, then releases the
// connection pools.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	s.hub.Stop()
	s.rdb.Close()
	s.pool.Close()
	return err
}
