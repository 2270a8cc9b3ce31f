package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FeedMetrics holds Prometheus metrics for the feed and its snapshot backend.
type FeedMetrics struct {
	EntriesAppended *prometheus.CounterVec
	Entries         prometheus.Gauge
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewFeedMetrics creates and registers feed metrics on the given registry.
func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	m := &FeedMetrics{
		EntriesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "entries_appended_total",
			Help:      "Total number of feed entries appended, by result.",
		}, []string{"result"}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "entries",
			Help:      "Number of entries currently held in the feed.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "persist_failures_total",
			Help:      "Total number of failed snapshot writes.",
		}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "persist_duration_seconds",
			Help:      "Duration of snapshot writes in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(m.EntriesAppended, m.Entries, m.PersistFailures, m.PersistDuration)
	return m
}

// ObservePersist records one snapshot write. Its signature matches feed.PersistObserver.
func (m *FeedMetrics) ObservePersist(d time.Duration, err error) {
	m.PersistDuration.Observe(d.Seconds())
	if err != nil {
		m.PersistFailures.Inc()
	}
}
