package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes as recorded in medq_fetch_total.
const (
	OutcomeAnswered  = "answered"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the chat collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	questions prometheus.Counter
	fetches   *prometheus.CounterVec
	latency   prometheus.Histogram
	storeErrs *prometheus.CounterVec
	inflight  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		questions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medq",
			Name:      "questions_total",
			Help:      "Questions accepted by the session manager.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medq",
			Name:      "fetch_total",
			Help:      "Answer fetches by final outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medq",
			Name:      "fetch_duration_seconds",
			Help:      "Time from question to resolution.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		storeErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medq",
			Name:      "store_errors_total",
			Help:      "Persistent store failures by operation.",
		}, []string{"op"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "medq",
			Name:      "fetches_in_flight",
			Help:      "Answer fetches currently outstanding.",
		}),
	}
	m.registry.MustRegister(m.questions, m.fetches, m.latency, m.storeErrs, m.inflight)
	return m
}

func (m *Metrics) QuestionAdded() {
	if m == nil {
		return
	}
	m.questions.Inc()
	m.inflight.Inc()
}

func (m *Metrics) FetchResolved(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
	m.latency.Observe(elapsed.Seconds())
	m.inflight.Dec()
}

// FetchDropped accounts for an outstanding fetch whose entry disappeared
// with its session.
func (m *Metrics) FetchDropped() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

func (m *Metrics) StoreFailed(op string) {
	if m == nil {
		return
	}
	m.storeErrs.WithLabelValues(op).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
}
