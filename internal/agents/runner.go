package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/cache"
	"github.com/jonathan/match-orchestrator/internal/executor"
	"github.com/jonathan/match-orchestrator/internal/llm"
	"github.com/jonathan/match-orchestrator/internal/logger"
	"github.com/jonathan/match-orchestrator/internal/metrics"
	"github.com/jonathan/match-orchestrator/internal/types"
)

// DefaultFallbackScore is the conservative score given to a failed scoring agent.
const DefaultFallbackScore = 35

// Result is the outcome of one agent run. It is never nil and never an error:
// failures are represented as fallbacks.
type Result struct {
	Kind            Kind            `json:"kind"`
	Output          json.RawMessage `json:"output"`
	ExecutedAt      time.Time       `json:"executed_at"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Success         bool            `json:"success"`
	IsFallback      bool            `json:"is_fallback"`
	FromCache       bool            `json:"from_cache"`
	Usage           executor.Usage  `json:"usage"`
	Error           string          `json:"error,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
}

// Score decodes a scoring agent's output.
func (r Result) Score() (ScoreOutput, error) {
	var out ScoreOutput
	if err := json.Unmarshal(r.Output, &out); err != nil {
		return ScoreOutput{}, fmt.Errorf("agent %s output is not a score: %w", r.Kind, err)
	}
	return out, nil
}

// AgentUsage converts the result's usage for aggregation.
func (r Result) AgentUsage() types.AgentUsage {
	return types.AgentUsage{
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		CachedTokens:     r.Usage.CachedTokens,
		TotalTokens:      r.Usage.TotalTokens,
		Cost:             r.Usage.Cost,
		CostSavings:      r.Usage.CostSavings,
		FromCache:        r.FromCache,
	}
}

// Input is what every agent of one roster run receives.
type Input struct {
	// EvaluationID groups activity events of one request.
	EvaluationID string
	UserID       string
	// Vars supplies the roster's template variables.
	Vars map[string]string
	// ContentHash identifies the semantic inputs for caching; empty disables caching.
	ContentHash string
}

// UsageRecorder persists per-agent activity events.
type UsageRecorder interface {
	RecordAgentUsage(ctx context.Context, ev types.AgentUsageEvent) error
}

// Runner executes single agents.
type Runner struct {
	exec          *executor.Executor
	cache         *cache.Cache
	recorder      UsageRecorder
	metrics       *metrics.Metrics
	logger        *zap.Logger
	fallbackScore float64
	maxTokens     int
	now           func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCache enables agent result caching.
func WithCache(c *cache.Cache) RunnerOption {
	return func(r *Runner) { r.cache = c }
}

// WithUsageRecorder records an activity event per agent run.
func WithUsageRecorder(rec UsageRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithMetrics records agent outcomes and usage.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger.OrNop(l) }
}

// WithFallbackScore overrides DefaultFallbackScore.
func WithFallbackScore(score float64) RunnerOption {
	return func(r *Runner) { r.fallbackScore = score }
}

// WithMaxTokens overrides the templates' output token ceiling when n > 0.
func WithMaxTokens(n int) RunnerOption {
	return func(r *Runner) { r.maxTokens = n }
}

// NewRunner creates a Runner and checks that every roster's templates exist
// and take no variables beyond the roster's own.
func NewRunner(exec *executor.Executor, rosters []Roster, opts ...RunnerOption) (*Runner, error) {
	for _, roster := range rosters {
		for _, def := range roster.Agents {
			if err := exec.Registry().Require(def.TemplateID, roster.Variables...); err != nil {
				return nil, fmt.Errorf("roster %s: %w", roster.Name, err)
			}
		}
	}

	r := &Runner{
		exec:          exec,
		logger:        zap.NewNop(),
		fallbackScore: DefaultFallbackScore,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one agent. The error is non-nil only for a *executor.TemplateError;
// every other failure yields a fallback Result.
func (r *Runner) Run(ctx context.Context, pipeline string, def Definition, in Input) (Result, error) {
	start := r.now()
	log := r.logger.With(logger.AgentFields(string(def.Kind), def.TemplateID, in.UserID)...)

	if res, ok := r.fromCache(ctx, def, in, start); ok {
		log.Debug("agent result served from cache")
		r.observe(ctx, pipeline, def, in, res, "cached")
		return res, nil
	}

	out, err := r.exec.Execute(ctx, def.TemplateID, in.Vars, executor.Call{UserID: in.UserID, MaxTokens: r.maxTokens})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Kind:            def.Kind,
		ExecutedAt:      start,
		ExecutionTimeMs: r.now().Sub(start).Milliseconds(),
		Usage:           out.Usage,
	}

	if out.Success {
		res.Output = out.Data
		res.Success = true
		r.store(ctx, def, in, res)
		r.observe(ctx, pipeline, def, in, res, "success")
		return res, nil
	}

	cause := executor.Kind(out.Err)
	if errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) {
		cause = "canceled"
	}
	res.Output = fallbackOutput(def, r.fallbackScore, cause)
	res.IsFallback = true
	res.ErrorKind = cause
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	log.Warn("agent failed, using fallback",
		zap.String("error_kind", cause),
		zap.Int("attempts", out.Usage.Attempts),
		zap.Error(out.Err))
	r.observe(ctx, pipeline, def, in, res, "fallback")
	return res, nil
}

func (r *Runner) cacheHash(def Definition, in Input) string {
	return string(def.Kind) + ":" + in.ContentHash
}

func (r *Runner) fromCache(ctx context.Context, def Definition, in Input, now time.Time) (Result, bool) {
	if r.cache == nil || in.ContentHash == "" {
		return Result{}, false
	}
	payload, ok := r.cache.Get(ctx, in.UserID, cache.AgentResult, r.cacheHash(def, in))
	if !ok {
		return Result{}, false
	}
	var cached Result
	if err := json.Unmarshal(payload, &cached); err != nil || cached.Kind != def.Kind {
		return Result{}, false
	}

	// No call was made: no tokens, no cost. The original cost is saved.
	cached.FromCache = true
	cached.ExecutedAt = now
	cached.ExecutionTimeMs = 0
	cached.Usage.Usage = llm.Usage{}
	cached.Usage.CostSavings += cached.Usage.Cost
	cached.Usage.Cost = 0
	cached.Usage.Attempts = 0
	return cached, true
}

func (r *Runner) store(ctx context.Context, def Definition, in Input, res Result) {
	if r.cache == nil || in.ContentHash == "" {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	r.cache.Put(ctx, in.UserID, cache.AgentResult, r.cacheHash(def, in), payload, 0)
}

func (r *Runner) observe(ctx context.Context, pipeline string, def Definition, in Input, res Result, outcome string) {
	r.metrics.ObserveAgent(string(def.Kind), outcome, time.Duration(res.ExecutionTimeMs)*time.Millisecond)
	if !res.FromCache {
		r.metrics.ObserveUsage(res.Usage.Model, res.Usage.PromptTokens, res.Usage.CompletionTokens,
			res.Usage.CachedTokens, res.Usage.Cost, res.Usage.CostSavings)
	}

	if r.recorder == nil {
		return
	}
	ev := types.AgentUsageEvent{
		EvaluationID:     in.EvaluationID,
		UserID:           in.UserID,
		Pipeline:         pipeline,
		Agent:            string(def.Kind),
		Model:            res.Usage.Model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		CachedTokens:     res.Usage.CachedTokens,
		TotalTokens:      res.Usage.TotalTokens,
		Cost:             res.Usage.Cost,
		CostSavings:      res.Usage.CostSavings,
		Success:          res.Success,
		IsFallback:       res.IsFallback,
		FromCache:        res.FromCache,
		ErrorKind:        res.ErrorKind,
		DurationMs:       res.ExecutionTimeMs,
		OccurredAt:       res.ExecutedAt,
	}
	// The request may already be canceled; the event still describes billed usage.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.recorder.RecordAgentUsage(recCtx, ev); err != nil {
		r.logger.Warn("failed to record agent usage", zap.String(logger.FieldAgent, string(def.Kind)), zap.Error(err))
	}
}
