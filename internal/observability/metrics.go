// Package observability holds the Prometheus metrics shared by the runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the runtime's collectors. All recording methods are safe to
// call on a nil *Metrics, which disables collection.
type Metrics struct {
	// ToolExecutions counts finished invocation sequences.
	// Labels: tool, status (success|error|exhausted)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures the final attempt of each invocation in seconds.
	ToolDuration *prometheus.HistogramVec

	// Retries counts individual retry sleeps. Labels: tool, category
	Retries *prometheus.CounterVec

	// RateLimitWaits measures limiter suspensions in seconds. Labels: key
	RateLimitWaits *prometheus.HistogramVec

	// Sessions counts terminal session states. Labels: state
	Sessions *prometheus.CounterVec

	// ActiveSessions is the number of sessions currently running.
	ActiveSessions prometheus.Gauge

	// LLMRequests counts model calls. Labels: provider, status
	LLMRequests *prometheus.CounterVec

	// UpstreamHealth is 1 when the last probe of an upstream succeeded.
	// Labels: upstream
	UpstreamHealth *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in production and prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ToolExecutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metatron_tool_executions_total",
				Help: "Tool invocation sequences by tool and outcome",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metatron_tool_duration_seconds",
				Help:    "Duration of the final tool attempt in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),
		Retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metatron_retries_total",
				Help: "Retry attempts by tool and error category",
			},
			[]string{"tool", "category"},
		),
		RateLimitWaits: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metatron_rate_limit_wait_seconds",
				Help:    "Time callers spent suspended by the sliding window limiter",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"key"},
		),
		Sessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metatron_sessions_total",
				Help: "Orchestration sessions by terminal state",
			},
			[]string{"state"},
		),
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "metatron_active_sessions",
				Help: "Sessions currently being processed",
			},
		),
		LLMRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metatron_llm_requests_total",
				Help: "Language model calls by provider and outcome",
			},
			[]string{"provider", "status"},
		),
		UpstreamHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "metatron_upstream_up",
				Help: "Result of the last health probe per upstream (1 = healthy)",
			},
			[]string{"upstream"},
		),
	}
}

func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

func (m *Metrics) RecordRetry(tool, category string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(tool, category).Inc()
}

func (m *Metrics) RecordRateLimitWait(key string, seconds float64) {
	if m == nil {
		return
	}
	m.RateLimitWaits.WithLabelValues(key).Observe(seconds)
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded(state string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.Sessions.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordLLMRequest(provider, status string) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) SetUpstreamHealth(upstream string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.UpstreamHealth.WithLabelValues(upstream).Set(v)
}
