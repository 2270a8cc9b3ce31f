package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for the prompt and feed sockets.
type WebSocketMetrics struct {
	FeedSessions        prometheus.Gauge
	PromptConnections   prometheus.Gauge
	MessagesDelivered   prometheus.Counter
	SlowSessionsEvicted prometheus.Counter
	PromptsRejected     *prometheus.CounterVec
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		FeedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "feed_sessions",
			Help:      "Number of live feed subscriber sessions.",
		}),
		PromptConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "prompt_connections",
			Help:      "Number of open prompt connections.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_delivered_total",
			Help:      "Total number of feed entries written to subscriber sockets.",
		}),
		SlowSessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "slow_sessions_evicted_total",
			Help:      "Total number of feed sessions dropped because their queue was full.",
		}),
		PromptsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "prompts_rejected_total",
			Help:      "Total number of prompt frames rejected, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.FeedSessions, m.PromptConnections, m.MessagesDelivered, m.SlowSessionsEvicted, m.PromptsRejected)
	return m
}
