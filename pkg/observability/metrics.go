// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for a research run. Both are optional; disabled they cost nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instrument set for the research protocol.
type Metrics struct {
	registry *prometheus.Registry

	PhaseDuration     *prometheus.HistogramVec
	LLMRequests       *prometheus.CounterVec
	LLMTokens         *prometheus.CounterVec
	LLMRetries        prometheus.Counter
	RetrievalRequests *prometheus.CounterVec
	WindowsProcessed  prometheus.Counter
	StepsFailed       prometheus.Counter
	SessionsActive    prometheus.Gauge
}

// NewMetrics registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fathom_phase_duration_seconds",
			Help:    "Wall time spent per research phase",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"phase"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fathom_llm_requests_total",
			Help: "LLM streaming requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fathom_llm_tokens_total",
			Help: "Tokens consumed by direction (prompt or completion)",
		}, []string{"provider", "direction"}),
		LLMRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "fathom_llm_retries_total",
			Help: "LLM window retries after transient failures",
		}),
		RetrievalRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fathom_retrieval_requests_total",
			Help: "Mid-stream retrieval requests by method and outcome",
		}, []string{"method", "outcome"}),
		WindowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fathom_windows_processed_total",
			Help: "Content windows analyzed in step execution",
		}),
		StepsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fathom_steps_failed_total",
			Help: "Plan steps whose every window failed",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fathom_sessions_active",
			Help: "Research sessions currently running",
		}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
