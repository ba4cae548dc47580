package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the relay
type Metrics struct {
	// Relay metrics
	RelayRequests   *prometheus.CounterVec
	RelayLatency    *prometheus.HistogramVec
	RelayChunks     *prometheus.CounterVec
	RelayRejections *prometheus.CounterVec

	// Parser metrics
	ParseErrors *prometheus.CounterVec
}

// NewMetrics registers the relay metrics with reg. inFlight, when set, backs
// a gauge of requests currently holding a rate-limiter slot.
func NewMetrics(reg prometheus.Registerer, inFlight func() float64) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// Relay requests by terminal outcome
		RelayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_requests_total",
			Help: "Total number of relayed requests by backend and outcome",
		}, []string{"backend", "outcome"}),

		// Time from admission to terminal state
		RelayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrelay_request_duration_seconds",
			Help:    "Relayed request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}, []string{"backend"}),

		RelayChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_chunks_total",
			Help: "Total number of text chunks forwarded to callers",
		}, []string{"backend"}),

		// Admission rejections (reason: rate_limited, duplicate)
		RelayRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_rejections_total",
			Help: "Total number of requests rejected before reaching the backend",
		}, []string{"backend", "reason"}),

		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_parse_errors_total",
			Help: "Total number of malformed upstream stream units",
		}, []string{"backend"}),
	}

	if inFlight != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "llmrelay_requests_in_flight",
			Help: "Current number of requests holding a rate-limiter slot",
		}, inFlight)
	}

	return metrics
}

// RecordRequest records a finished request
func (m *Metrics) RecordRequest(backend string, outcome RequestOutcome, seconds float64) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(backend, string(outcome)).Inc()
	m.RelayLatency.WithLabelValues(backend).Observe(seconds)
}

// RecordChunk records one forwarded chunk
func (m *Metrics) RecordChunk(backend string) {
	if m == nil {
		return
	}
	m.RelayChunks.WithLabelValues(backend).Inc()
}

// RecordRejection records an admission rejection
func (m *Metrics) RecordRejection(backend, reason string) {
	if m == nil {
		return
	}
	m.RelayRejections.WithLabelValues(backend, reason).Inc()
}

// RecordParseError records a malformed stream unit
func (m *Metrics) RecordParseError(backend string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(backend).Inc()
}
