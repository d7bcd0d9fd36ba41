package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions prometheus.Gauge
	frames         *prometheus.CounterVec
	lockWait       prometheus.Histogram
	mutations      *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	flushes        *prometheus.CounterVec
	configEvents   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "farmgate", Name: "active_sessions",
			Help: "Open realtime connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmgate", Name: "frames_total",
			Help: "Inbound frames by kind and result.",
		}, []string{"kind", "result"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "farmgate", Name: "lock_wait_seconds",
			Help:    "Time spent acquiring a lock set.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmgate", Name: "mutations_total",
			Help: "Coordinated mutations by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmgate", Name: "rate_limited_total",
			Help: "Requests or frames dropped by the rate limiter.",
		}, []string{"scope"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmgate", Name: "session_flushes_total",
			Help: "Teardown flushes by result.",
		}, []string{"result"}),
		configEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmgate", Name: "config_sync_events_total",
			Help: "Config change notifications applied to the cache.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeSessions, m.frames, m.lockWait, m.mutations,
		m.rateLimited, m.flushes, m.configEvents,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) Frame(kind, result string) {
	if m != nil {
		m.frames.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) LockWait(seconds float64) {
	if m != nil {
		m.lockWait.Observe(seconds)
	}
}

func (m *Metrics) Mutation(outcome string) {
	if m != nil {
		m.mutations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RateLimited(scope string) {
	if m != nil {
		m.rateLimited.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) Flush(result string) {
	if m != nil {
		m.flushes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ConfigEvent(op string) {
	if m != nil {
		m.configEvents.WithLabelValues(op).Inc()
	}
}
