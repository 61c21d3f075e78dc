package genclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects transport-level counters and latencies. All methods are
// nil-receiver safe so instrumentation stays optional: a client built
// without WithMetrics simply records nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	retries   prometheus.Counter
	fallbacks prometheus.Counter
	latency   *prometheus.HistogramVec
	tokens    *prometheus.CounterVec
}

// NewMetrics registers the engine's collectors with the given registerer
// (use prometheus.DefaultRegisterer for the process-wide registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genclient",
			Name:      "requests_total",
			Help:      "Backend requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "genclient",
			Name:      "retries_total",
			Help:      "Generation attempts retried after a failure.",
		}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "genclient",
			Name:      "legacy_fallbacks_total",
			Help:      "Requests replayed against the legacy stream path after a 404.",
		}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "genclient",
			Name:      "request_duration_seconds",
			Help:      "Wall time of individual backend attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"endpoint"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genclient",
			Name:      "tokens_total",
			Help:      "Normalized token usage by direction.",
		}, []string{"direction"}),
	}
}

func (m *Metrics) observeRequest(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.latency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) incRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) incFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) addUsage(usage TokenUsage) {
	if m == nil || usage.IsZero() {
		return
	}
	m.tokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
}
