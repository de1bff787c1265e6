package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Evaluations         *prometheus.CounterVec
	DetectorOutcomes    *prometheus.CounterVec
	DetectorLatency     *prometheus.HistogramVec
	EvaluationLatency   prometheus.Histogram
	StoreErrors         prometheus.Counter
	InvalidRequests     prometheus.Counter
	ActiveConversations prometheus.Gauge
	Evictions           prometheus.Counter
	TransportMessages   *prometheus.CounterVec

	// Window keeps recent latencies for the perf endpoint.
	Window *LatencyWindow
}

// NewMetrics registers instruments on reg. A nil reg uses the default
// Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Completed safety evaluations by concern level.",
		}, []string{"concern_level"}),
		DetectorOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_outcomes_total",
			Help:      "Detector results by detector, status and reason.",
		}, []string{"detector", "status", "reason"}),
		DetectorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_latency_ms",
			Help:      "Detector latency in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 50, 200, 1000, 2000},
		}, []string{"detector"}),
		EvaluationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_latency_ms",
			Help:      "End-to-end evaluation latency in milliseconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000, 2500},
		}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Conversation store failures.",
		}),
		InvalidRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_requests_total",
			Help:      "Requests rejected by input validation.",
		}),
		ActiveConversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Conversations currently held by the in-memory store.",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_evictions_total",
			Help:      "Idle conversations evicted by the janitor.",
		}),
		TransportMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_messages_total",
			Help:      "Analysis requests by transport and outcome.",
		}, []string{"transport", "outcome"}),
		Window: NewLatencyWindow(256),
	}
}

func (m *Metrics) ObserveDetector(detector, status, reason string, d time.Duration) {
	m.DetectorOutcomes.WithLabelValues(detector, status, reason).Inc()
	ms := float64(d.Microseconds()) / 1000
	m.DetectorLatency.WithLabelValues(detector).Observe(ms)
	m.Window.Observe(detector, ms)
	if status != "ok" {
		m.Window.ObserveIndicator(detector + "." + reason)
	}
}

func (m *Metrics) ObserveEvaluation(level string, d time.Duration) {
	m.Evaluations.WithLabelValues(level).Inc()
	ms := float64(d.Microseconds()) / 1000
	m.EvaluationLatency.Observe(ms)
	m.Window.Observe(StageEvaluation, ms)
}

// MetricsHandler serves the given gatherer, or the default one when nil.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
