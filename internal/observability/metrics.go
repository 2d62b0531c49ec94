// Package observability exposes Prometheus metrics for the message pipeline.
//
// Every recording method is safe to call on a nil *Metrics, so components
// can take metrics as an optional dependency.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// InboundMessages counts inbound messages.
	// Labels: channel (whatsapp|web|console), outcome
	InboundMessages *prometheus.CounterVec

	// DispatchDuration measures a full dispatcher turn.
	// Labels: outcome (ok|blocked|error|timeout)
	DispatchDuration *prometheus.HistogramVec

	// GuardrailVerdicts counts classifications.
	// Labels: verdict (pass|flagged|error)
	GuardrailVerdicts *prometheus.CounterVec

	// LLMTokens tracks token consumption.
	// Labels: model, type (input|output)
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// Deliveries counts delivery attempts.
	// Labels: channel, status (success|error)
	Deliveries *prometheus.CounterVec

	// CacheLookups counts tenant and instruction cache results.
	// Labels: cache (tenant|instructions), result (hit|miss|refresh|error|not_found)
	CacheLookups *prometheus.CounterVec

	// ActiveSessions is the number of live session handles.
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates all collectors on a fresh registry, along with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		InboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fordez_inbound_messages_total",
			Help: "Inbound messages by channel and pipeline outcome",
		}, []string{"channel", "outcome"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fordez_dispatch_duration_seconds",
			Help:    "Duration of dispatcher turns in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		GuardrailVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fordez_guardrail_verdicts_total",
			Help: "Safety classifications by verdict",
		}, []string{"verdict"}),
		LLMTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fordez_llm_tokens_total",
			Help: "Tokens used by model and type",
		}, []string{"model", "type"}),
		ToolExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fordez_tool_executions_total",
			Help: "Tool executions by tool name and status",
		}, []string{"tool_name", "status"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fordez_deliveries_total",
			Help: "Delivery attempts by channel and status",
		}, []string{"channel", "status"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fordez_cache_lookups_total",
			Help: "Tenant and instruction cache lookups by result",
		}, []string{"cache", "result"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "fordez_active_sessions",
			Help: "Live session handles in this process",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) InboundMessage(channel, outcome string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) Dispatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) GuardrailVerdict(verdict string) {
	if m == nil {
		return
	}
	m.GuardrailVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) Tokens(model string, input, output int) {
	if m == nil {
		return
	}
	m.LLMTokens.WithLabelValues(model, "input").Add(float64(input))
	m.LLMTokens.WithLabelValues(model, "output").Add(float64(output))
}

func (m *Metrics) ToolExecution(name string, ok bool) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(name, status(ok)).Inc()
}

func (m *Metrics) Delivery(channel string, ok bool) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(channel, status(ok)).Inc()
}

func (m *Metrics) CacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
