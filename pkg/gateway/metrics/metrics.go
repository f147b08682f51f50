// Package metrics exposes Prometheus collectors for the gateway and live
// sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/terranogyneco/pkg/core/live"
)

// Metrics holds all Prometheus metrics for one process. It implements
// live.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Live session metrics
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveStateChanges    *prometheus.CounterVec
	LiveBargeIns        prometheus.Counter
	LiveAudioBytesTotal *prometheus.CounterVec

	// Tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// History metrics
	AutosavesTotal *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

var _ live.Metrics = (*Metrics)(nil)

// New creates a Metrics instance with every collector registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "terranogyneco"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		},
		[]string{"route", "method"},
	)

	liveSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of active live sessions",
		},
	)

	liveSessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of finished live sessions by outcome",
		},
		[]string{"outcome"},
	)

	liveStateChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_state_transitions_total",
			Help:      "Session state transitions by target state",
		},
		[]string{"state"},
	)

	liveBargeIns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_barge_ins_total",
			Help:      "Times the user interrupted AI playback",
		},
	)

	liveAudioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Total audio bytes relayed over live websockets",
		},
		[]string{"direction"},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"tool"},
	)

	autosavesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosaves_total",
			Help:      "Periodic conversation saves by result",
		},
		[]string{"result"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		liveSessionsActive,
		liveSessionsTotal,
		liveStateChanges,
		liveBargeIns,
		liveAudioBytesTotal,
		toolCallsTotal,
		toolCallDuration,
		autosavesTotal,
		rateLimitHits,
	)

	return &Metrics{
		registry:            registry,
		RequestsTotal:       requestsTotal,
		RequestDuration:     requestDuration,
		LiveSessionsActive:  liveSessionsActive,
		LiveSessionsTotal:   liveSessionsTotal,
		LiveStateChanges:    liveStateChanges,
		LiveBargeIns:        liveBargeIns,
		LiveAudioBytesTotal: liveAudioBytesTotal,
		ToolCallsTotal:      toolCallsTotal,
		ToolCallDuration:    toolCallDuration,
		AutosavesTotal:      autosavesTotal,
		RateLimitHits:       rateLimitHits,
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument wraps h so requests are counted and timed under route.
func (m *Metrics) Instrument(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	h = promhttp.InstrumentHandlerDuration(m.RequestDuration.MustCurryWith(labels), h)
	return promhttp.InstrumentHandlerCounter(m.RequestsTotal.MustCurryWith(labels), h)
}

func (m *Metrics) SessionStarted() {
	m.LiveSessionsActive.Inc()
}

// SessionEnded records a finished session. Sessions that failed to start
// were never counted as active.
func (m *Metrics) SessionEnded(outcome string) {
	if outcome != live.OutcomeStartError {
		m.LiveSessionsActive.Dec()
	}
	m.LiveSessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StateChanged(to live.State) {
	m.LiveStateChanges.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) BargeIn() {
	m.LiveBargeIns.Inc()
}

func (m *Metrics) ToolCompleted(tool, status string, d time.Duration) {
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordLiveAudio records audio bytes relayed in a live session.
func (m *Metrics) RecordLiveAudio(direction string, bytes int) {
	m.LiveAudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordAutosave records the outcome of one periodic save.
func (m *Metrics) RecordAutosave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AutosavesTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}
