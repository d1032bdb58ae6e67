package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for live-match sessions.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	activeSessions   prometheus.Gauge
	sessionsOpened   prometheus.Counter
	sessionsReleased prometheus.Counter
	intentsTotal     *prometheus.CounterVec
	playbackErrors   *prometheus.CounterVec
	commentOps       *prometheus.CounterVec
	resolveDurations *prometheus.HistogramVec
}

// New creates and registers the session metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchlive_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchlive_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchlive_active_sessions",
			Help: "Number of sessions that have not been released",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchlive_sessions_opened_total",
			Help: "Total number of sessions opened",
		}),
		sessionsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchlive_sessions_released_total",
			Help: "Total number of sessions released",
		}),
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchlive_intents_total",
			Help: "Intents dispatched to sessions by kind",
		}, []string{"intent"}),
		playbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchlive_playback_errors_total",
			Help: "Playback errors by source (resolve, load, player)",
		}, []string{"source"}),
		commentOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchlive_comment_operations_total",
			Help: "Comment operations by kind and result",
		}, []string{"op", "result"}),
		resolveDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchlive_stream_resolve_seconds",
			Help:    "Latency of stream url resolution",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.activeSessions,
		m.sessionsOpened,
		m.sessionsReleased,
		m.intentsTotal,
		m.playbackErrors,
		m.commentOps,
		m.resolveDurations,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
}

// SessionReleased records a released session.
func (m *Metrics) SessionReleased() {
	if m == nil {
		return
	}
	m.sessionsReleased.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncIntent counts a dispatched intent.
func (m *Metrics) IncIntent(intent string) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(intent).Inc()
}

// IncPlaybackError counts a playback error by source.
func (m *Metrics) IncPlaybackError(source string) {
	if m == nil {
		return
	}
	m.playbackErrors.WithLabelValues(source).Inc()
}

// IncCommentOp counts a finished comment operation.
func (m *Metrics) IncCommentOp(op, result string) {
	if m == nil {
		return
	}
	m.commentOps.WithLabelValues(op, result).Inc()
}

// ObserveResolve records how long a stream resolution took.
func (m *Metrics) ObserveResolve(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.resolveDurations.WithLabelValues(result).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
