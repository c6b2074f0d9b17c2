package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the gateway. All methods
// are nil-safe so callers can run without metrics in tests.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	streamChunks   prometheus.Counter
	streamDuration prometheus.Histogram
}

// New registers the gateway collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turbogate_requests_total",
				Help: "Total number of gateway requests by surface, backend and status",
			},
			[]string{"surface", "backend", "status"},
		),
		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turbogate_upstream_errors_total",
				Help: "Total number of failed upstream backend calls",
			},
			[]string{"backend"},
		),
		streamChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turbogate_stream_chunks_total",
				Help: "Total number of SSE chunks emitted to clients",
			},
		),
		streamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turbogate_stream_duration_seconds",
				Help:    "Wall-clock duration of completed streaming responses",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}
}

// ObserveRequest counts one handled request.
func (m *Metrics) ObserveRequest(surface, backend, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(surface, backend, status).Inc()
}

// ObserveUpstreamError counts one failed backend call.
func (m *Metrics) ObserveUpstreamError(backend string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(backend).Inc()
}

// ObserveChunk counts one emitted stream chunk.
func (m *Metrics) ObserveChunk() {
	if m == nil {
		return
	}
	m.streamChunks.Inc()
}

// ObserveStream records the duration of a finished stream.
func (m *Metrics) ObserveStream(d time.Duration) {
	if m == nil {
		return
	}
	m.streamDuration.Observe(d.Seconds())
}
