package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identification module: resolution
// traffic per channel, rejected taps, debounce suppression, and the health of
// the hardware bridge.
type Metrics struct {
	Resolutions      *prometheus.CounterVec
	TagsRejected     prometheus.Counter
	DebouncedTaps    prometheus.Counter
	SearchQueries    prometheus.Counter
	ResolveDuration  prometheus.Histogram
	BridgeReconnects prometheus.Counter
	BridgeConnected  prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	SessionOutcomes  *prometheus.CounterVec
}

// New creates a Metrics instance with all identification metrics registered.
func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gemma_identify_resolutions_total",
			Help: "Successful identifications, by input channel",
		}, []string{"channel"}),
		TagsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_identify_tags_rejected_total",
			Help: "Taps of unregistered or inactive credentials",
		}),
		DebouncedTaps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_identify_debounced_taps_total",
			Help: "Repeat hardware reads suppressed inside the debounce window",
		}),
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_identify_search_queries_total",
			Help: "Free-text customer search queries served",
		}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gemma_identify_resolve_duration_seconds",
			Help:    "Duration of credential resolutions (terminal critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BridgeReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_identify_bridge_reconnects_total",
			Help: "Hardware bridge reconnect attempts after a dropped connection",
		}),
		BridgeConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gemma_identify_bridge_connected",
			Help: "1 while the hardware bridge stream is connected",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gemma_identify_active_scan_sessions",
			Help: "Terminals currently waiting for a credential",
		}),
		SessionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gemma_identify_scan_sessions_total",
			Help: "Finished scan sessions, by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveResolve records the duration of one resolution attempt.
func (m *Metrics) ObserveResolve(start time.Time) {
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}
