package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the observability surface for distribution outcomes. Channel
// failures and terminal batch failures are never surfaced to producers or end
// users; they show up here and in logs only.
type Metrics struct {
	NotificationsCreated prometheus.Counter
	NotificationsSkipped prometheus.Counter
	Deliveries           *prometheus.CounterVec // labels: channel, status
	BatchesProcessed     *prometheus.CounterVec // labels: status
	LiveConnections      prometheus.Gauge
	EmailBlocks          prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NotificationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "notification_created_total",
			Help: "Notifications persisted by the router.",
		}),
		NotificationsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "notification_skipped_total",
			Help: "Target users filtered out by the minimum-priority floor.",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Delivery status transitions applied, by channel and status.",
		}, []string{"channel", "status"}),
		BatchesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_batches_total",
			Help: "Digest batches flushed, by terminal status.",
		}, []string{"status"}),
		LiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notification_ws_connections",
			Help: "Currently registered websocket connections.",
		}),
		EmailBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "notification_email_blocks_total",
			Help: "Users whose email channel was disabled by bounce/spam policy.",
		}),
	}
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
