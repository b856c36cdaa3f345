package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAgent("education", "success", time.Second)
		m.ObserveUsage("gpt-4o", 1, 1, 0, 0.1, 0)
		m.CacheHit("current_job")
		m.CacheMiss("current_job")
		m.CacheError("current_job", "get")
		m.ObserveOrchestration("scoring", "model")
		m.ObserveFinalScore(80)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveAgent("education", "fallback", 2*time.Second)
	m.ObserveAgent("education", "fallback", time.Second)
	m.CacheHit("agent_result")
	m.ObserveUsage("gpt-4o", 100, 20, 40, 0.5, 0.05)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AgentRuns.WithLabelValues("education", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("agent_result")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("gpt-4o", "prompt")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.LLMCost.WithLabelValues("gpt-4o")), 1e-9)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveOrchestration("scoring", "local_fallback")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `match_orchestration_total{mode="local_fallback",pipeline="scoring"} 1`)
}
