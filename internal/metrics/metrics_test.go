package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveTool("jump_to", false)
	m.ObserveTool("jump_to", true)
	m.ObserveTool("jump_to", true)
	m.ObserveCache(true)
	m.ObserveSessionStart()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("jump_to", OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("jump_to", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTool("x", false)
		m.ObserveCache(false)
		m.ObserveSessionStart()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSessionStart()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "trace_mcp_sessions_started_total 1")
}
