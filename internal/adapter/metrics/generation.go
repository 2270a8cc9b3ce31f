package metrics

import "github.com/prometheus/client_golang/prometheus"

// GenerationMetrics holds Prometheus metrics for calls to the image generation service.
type GenerationMetrics struct {
	Requests            *prometheus.CounterVec
	Duration            prometheus.Histogram
	CircuitState        *prometheus.GaugeVec
	CircuitStateChanges *prometheus.CounterVec
}

// NewGenerationMetrics creates and registers generation metrics on the given registry.
func NewGenerationMetrics(reg prometheus.Registerer) *GenerationMetrics {
	m := &GenerationMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Total number of generation requests, by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Duration of generation requests in seconds.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open), by component.",
		}, []string{"component"}),
		CircuitStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker transitions, by component and new state.",
		}, []string{"component", "state"}),
	}

	reg.MustRegister(m.Requests, m.Duration, m.CircuitState, m.CircuitStateChanges)
	return m
}
