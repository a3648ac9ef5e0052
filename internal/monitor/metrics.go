package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the watcher's Prometheus collectors. Each instance owns
// its registry so several schedulers (tests) can coexist.
type Metrics struct {
	Registry *prometheus.Registry

	CyclesTotal      prometheus.Counter
	CyclesSkipped    prometheus.Counter
	CycleDuration    prometheus.Histogram
	SourceErrors     *prometheus.CounterVec
	Changes          *prometheus.CounterVec
	TrackedListings  *prometheus.GaugeVec
	DeliveriesFailed prometheus.Counter
	DigestsSent      prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_cycles_total",
			Help: "Cycles started",
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_cycles_skipped_total",
			Help: "Triggers ignored because a cycle was already running or shutdown had begun",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watcher_cycle_duration_seconds",
			Help:    "Wall time of a full cycle",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watcher_source_errors_total",
			Help: "Per-source failures by stage (fetch, store_write)",
		}, []string{"stage"}),
		Changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watcher_changes_total",
			Help: "Change records produced",
		}, []string{"change_type"}),
		TrackedListings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watcher_tracked_listings",
			Help: "Listings in the latest saved snapshot",
		}, []string{"source"}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_deliveries_failed_total",
			Help: "Digests that could not be delivered",
		}),
		DigestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_digests_sent_total",
			Help: "Digests delivered",
		}),
	}
	reg.MustRegister(
		m.CyclesTotal, m.CyclesSkipped, m.CycleDuration, m.SourceErrors,
		m.Changes, m.TrackedListings, m.DeliveriesFailed, m.DigestsSent,
	)
	return m
}

// Handler serves the registry for /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
