// Package metrics exposes Prometheus collectors for agent execution, usage and caching.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AgentDuration     *prometheus.HistogramVec
	AgentRuns         *prometheus.CounterVec
	LLMTokensUsed     *prometheus.CounterVec
	LLMCost           *prometheus.CounterVec
	LLMCostSavings    *prometheus.CounterVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	CacheErrors       *prometheus.CounterVec
	OrchestrationMode *prometheus.CounterVec
	FinalScore        *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AgentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_agent_duration_seconds",
				Help:    "Agent execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),
		AgentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_agent_runs_total",
				Help: "Total agent runs by outcome",
			},
			[]string{"agent", "outcome"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_llm_tokens_used_total",
				Help: "Total LLM tokens used",
			},
			[]string{"model", "type"},
		),
		LLMCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"model"},
		),
		LLMCostSavings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_llm_cost_savings_usd_total",
				Help: "Estimated savings from cached tokens and cached results in USD",
			},
			[]string{"model"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_cache_hits_total",
				Help: "Total cache hits",
			},
			[]string{"cache_kind"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_cache_misses_total",
				Help: "Total cache misses",
			},
			[]string{"cache_kind"},
		),
		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_cache_errors_total",
				Help: "Cache store failures absorbed as misses",
			},
			[]string{"cache_kind", "op"},
		),
		OrchestrationMode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_orchestration_total",
				Help: "Orchestration outcomes: model, overridden or local_fallback",
			},
			[]string{"pipeline", "mode"},
		),
		FinalScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_final_score",
				Help:    "Distribution of final overall scores",
				Buckets: []float64{40, 60, 70, 80, 90, 100},
			},
			[]string{},
		),
	}

	m.registry.MustRegister(
		m.AgentDuration,
		m.AgentRuns,
		m.LLMTokensUsed,
		m.LLMCost,
		m.LLMCostSavings,
		m.CacheHits,
		m.CacheMisses,
		m.CacheErrors,
		m.OrchestrationMode,
		m.FinalScore,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAgent records one agent run. outcome is success, fallback or cached.
func (m *Metrics) ObserveAgent(agent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AgentRuns.WithLabelValues(agent, outcome).Inc()
	m.AgentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// ObserveUsage records tokens and cost for one model call.
func (m *Metrics) ObserveUsage(model string, prompt, completion, cached int, cost, savings float64) {
	if m == nil {
		return
	}
	if model == "" {
		model = "unknown"
	}
	m.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(prompt))
	m.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completion))
	m.LLMTokensUsed.WithLabelValues(model, "cached").Add(float64(cached))
	m.LLMCost.WithLabelValues(model).Add(cost)
	m.LLMCostSavings.WithLabelValues(model).Add(savings)
}

// CacheHit records a cache hit for kind.
func (m *Metrics) CacheHit(kind string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(kind).Inc()
}

// CacheMiss records a cache miss for kind.
func (m *Metrics) CacheMiss(kind string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(kind).Inc()
}

// CacheError records a store failure that was absorbed.
func (m *Metrics) CacheError(kind, op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(kind, op).Inc()
}

// ObserveOrchestration records how a pipeline produced its final result.
func (m *Metrics) ObserveOrchestration(pipeline, mode string) {
	if m == nil {
		return
	}
	m.OrchestrationMode.WithLabelValues(pipeline, mode).Inc()
}

// ObserveFinalScore records a final overall score.
func (m *Metrics) ObserveFinalScore(score int) {
	if m == nil {
		return
	}
	m.FinalScore.WithLabelValues().Observe(float64(score))
}
