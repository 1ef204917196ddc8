// Package metrics holds the prometheus collectors exported by the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for tool calls
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics bundles the collectors registered on one registry.
type Metrics struct {
	Registry *prometheus.Registry

	ToolCalls       *prometheus.CounterVec
	SessionsStarted prometheus.Counter
	CacheLookups    *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trace_mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trace_mcp",
			Name:      "sessions_started_total",
			Help:      "Debug sessions successfully started.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trace_mcp",
			Name:      "decode_cache_lookups_total",
			Help:      "Decoded value cache lookups by result (hit or miss).",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(m.ToolCalls, m.SessionsStarted, m.CacheLookups)
	return m
}

// ObserveTool counts one tool call.
func (m *Metrics) ObserveTool(tool string, failed bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if failed {
		outcome = OutcomeError
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveCache counts one decode cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveSessionStart counts one started session.
func (m *Metrics) ObserveSessionStart() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
