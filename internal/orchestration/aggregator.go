package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/agents"
	"github.com/jonathan/match-orchestrator/internal/executor"
	"github.com/jonathan/match-orchestrator/internal/logger"
	"github.com/jonathan/match-orchestrator/internal/metrics"
	"github.com/jonathan/match-orchestrator/internal/types"
)

// Orchestration templates and the variables they add on top of the roster's.
const (
	ScoringTemplate   = "scoring-orchestration"
	TailoringTemplate = "tailoring-orchestration"

	VarAgentResults     = "AgentResults"
	VarAgentSuggestions = "AgentSuggestions"
	VarMaxLength        = "MaxLength"
)

// Modes reported to metrics.
const (
	ModeModel         = "model"
	ModeOverridden    = "overridden"
	ModeLocalFallback = "local_fallback"
	ModeSkipped       = "skipped"
)

const fallbackMarker = "[fallback] "

// Options are the product-tuning constants of the aggregator.
type Options struct {
	Weights Weights
	// DivergenceThreshold is the largest accepted gap between the model's
	// overall score and the calculated score.
	DivergenceThreshold float64
	// FallbackScore stands in for scoring kinds missing from a result set.
	FallbackScore float64
	RedFlagBelow  float64
	// PositiveAtOrAbove marks a category as a positive indicator.
	PositiveAtOrAbove float64
	// MaxDocumentLength bounds the tailored document, in characters.
	MaxDocumentLength int
	// ScoringMaxTokens and TailoringMaxTokens override the template ceilings when > 0.
	ScoringMaxTokens   int
	TailoringMaxTokens int
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Weights:             DefaultWeights,
		DivergenceThreshold: 25,
		FallbackScore:       agents.DefaultFallbackScore,
		RedFlagBelow:        40,
		PositiveAtOrAbove:   80,
		MaxDocumentLength:   12000,
	}
}

// Aggregator turns a finished roster into a final result. It is safe for
// concurrent use.
type Aggregator struct {
	exec     *executor.Executor
	opts     Options
	recorder agents.UsageRecorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithUsageRecorder records an activity event per orchestration call.
func WithUsageRecorder(rec agents.UsageRecorder) Option {
	return func(a *Aggregator) { a.recorder = rec }
}

// WithMetrics records orchestration modes and final scores.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = logger.OrNop(l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator and checks the orchestration templates
// against the variables each pipeline supplies.
func NewAggregator(exec *executor.Executor, opts Options, options ...Option) (*Aggregator, error) {
	def := DefaultOptions()
	if len(opts.Weights) == 0 {
		opts.Weights = def.Weights
	}
	if opts.Weights.Total() <= 0 {
		return nil, fmt.Errorf("scoring weights must sum to a positive value")
	}
	if opts.DivergenceThreshold <= 0 {
		opts.DivergenceThreshold = def.DivergenceThreshold
	}
	if opts.FallbackScore <= 0 {
		opts.FallbackScore = def.FallbackScore
	}
	if opts.RedFlagBelow <= 0 {
		opts.RedFlagBelow = def.RedFlagBelow
	}
	if opts.PositiveAtOrAbove <= 0 {
		opts.PositiveAtOrAbove = def.PositiveAtOrAbove
	}
	if opts.MaxDocumentLength <= 0 {
		opts.MaxDocumentLength = def.MaxDocumentLength
	}

	reg := exec.Registry()
	scoringVars := append(agents.ScoringRoster().Variables, VarAgentResults)
	if err := reg.Require(ScoringTemplate, scoringVars...); err != nil {
		return nil, err
	}
	tailoringVars := append(agents.TailoringRoster().Variables, VarAgentSuggestions, VarMaxLength)
	if err := reg.Require(TailoringTemplate, tailoringVars...); err != nil {
		return nil, err
	}

	a := &Aggregator{
		exec:   exec,
		opts:   opts,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range options {
		o(a)
	}
	return a, nil
}

// Options returns the effective tuning.
func (a *Aggregator) Options() Options {
	return a.opts
}

// agentAssessment is one entry of the AgentResults template variable.
type agentAssessment struct {
	Agent     string   `json:"agent"`
	Weight    float64  `json:"weight"`
	Score     float64  `json:"score"`
	Reasoning string   `json:"reasoning"`
	Evidence  []string `json:"evidence,omitempty"`
	Gaps      []string `json:"gaps,omitempty"`
	Fallback  bool     `json:"fallback"`
}

type agentResultsPayload struct {
	Categories []agentAssessment `json:"categories"`
	Strengths  []types.Strength  `json:"strengths"`
	Weaknesses []types.Weakness  `json:"weaknesses"`
}

type orchestrationReply struct {
	OverallScore         float64  `json:"overallScore"`
	KeyStrengths         []string `json:"keyStrengths"`
	KeyWeaknesses        []string `json:"keyWeaknesses"`
	RedFlags             []string `json:"redFlags"`
	PositiveIndicators   []string `json:"positiveIndicators"`
	HiringRecommendation string   `json:"hiringRecommendation"`
	InterviewFocus       []string `json:"interviewFocus"`
}

// collected is the arithmetic view of a scoring result set.
type collected struct {
	scores     map[agents.Kind]float64
	breakdown  map[string]types.CategoryScore
	payload    agentResultsPayload
	strengths  []types.Strength
	weaknesses []types.Weakness
}

func (a *Aggregator) collect(set *agents.ResultSet) collected {
	c := collected{
		scores:     make(map[agents.Kind]float64),
		breakdown:  make(map[string]types.CategoryScore),
		strengths:  []types.Strength{},
		weaknesses: []types.Weakness{},
	}

	for _, kind := range a.opts.Weights.kinds() {
		weight := a.opts.Weights[kind]
		res, ok := set.Results[kind]
		var out agents.ScoreOutput
		fallback := !ok || res.IsFallback
		if ok {
			decoded, err := res.Score()
			if err != nil {
				fallback = true
				decoded = agents.ScoreOutput{Score: a.opts.FallbackScore, Reasoning: "Assessment output could not be read."}
			}
			out = decoded
		} else {
			out = agents.ScoreOutput{Score: a.opts.FallbackScore, Reasoning: "Assessment was not executed."}
		}
		score := clampFloat(out.Score)

		reasoning := out.Reasoning
		if fallback {
			reasoning = fallbackMarker + reasoning
		}
		c.scores[kind] = score
		c.breakdown[string(kind)] = types.CategoryScore{
			Score:      score,
			Weight:     weight,
			Reasoning:  reasoning,
			IsFallback: fallback,
		}
		c.payload.Categories = append(c.payload.Categories, agentAssessment{
			Agent:     string(kind),
			Weight:    weight,
			Score:     score,
			Reasoning: out.Reasoning,
			Evidence:  out.Evidence,
			Gaps:      out.Gaps,
			Fallback:  fallback,
		})
	}

	if res, ok := set.Results[agents.Strengths]; ok {
		var out struct {
			Strengths []types.Strength `json:"strengths"`
		}
		if err := json.Unmarshal(res.Output, &out); err == nil && out.Strengths != nil {
			c.strengths = out.Strengths
		}
	}
	if res, ok := set.Results[agents.Weaknesses]; ok {
		var out struct {
			Weaknesses []types.Weakness `json:"weaknesses"`
		}
		if err := json.Unmarshal(res.Output, &out); err == nil && out.Weaknesses != nil {
			c.weaknesses = out.Weaknesses
		}
	}
	c.payload.Strengths = c.strengths
	c.payload.Weaknesses = c.weaknesses
	return c
}

// Combine produces the final verdict for a scoring result set. in.Vars must
// carry the scoring roster's variables. The error is non-nil only for a
// *executor.TemplateError; a failed orchestration call yields a locally
// synthesized result.
func (a *Aggregator) Combine(ctx context.Context, set *agents.ResultSet, in agents.Input) (*types.OrchestrationResult, types.UsageTotals, error) {
	start := a.now()
	c := a.collect(set)
	calculated := CalculatedScore(c.scores, a.opts.Weights)

	payload, err := json.MarshalIndent(c.payload, "", "  ")
	if err != nil {
		return nil, types.UsageTotals{}, fmt.Errorf("failed to encode agent results: %w", err)
	}
	vars := maps.Clone(in.Vars)
	if vars == nil {
		vars = map[string]string{}
	}
	vars[VarAgentResults] = string(payload)

	out, err := a.exec.Execute(ctx, ScoringTemplate, vars, executor.Call{UserID: in.UserID, MaxTokens: a.opts.ScoringMaxTokens})
	if err != nil {
		return nil, types.UsageTotals{}, err
	}
	orchUsage := a.record(ctx, "scoring", ScoringTemplate, in, out, start)

	var reply orchestrationReply
	decodeErr := out.Decode(&reply)

	var result *types.OrchestrationResult
	mode := ModeModel
	if out.Success && decodeErr == nil {
		result = a.fromModel(c, reply, calculated)
		if result.ExecutionSummary.ScoreOverridden {
			mode = ModeOverridden
			a.logger.Info("orchestration score overridden by calculated score",
				zap.Float64("model_score", reply.OverallScore),
				zap.Float64("calculated_score", calculated),
				zap.Float64("threshold", a.opts.DivergenceThreshold))
		}
	} else {
		mode = ModeLocalFallback
		cause := out.Err
		if cause == nil {
			cause = decodeErr
		}
		a.logger.Warn("orchestration call failed, using local fallback",
			zap.String("error_kind", executor.Kind(cause)),
			zap.Error(cause))
		result = a.localFallback(c, calculated)
	}

	result.EvaluationID = in.EvaluationID
	result.Breakdown = c.breakdown
	result.Strengths = c.strengths
	result.Weaknesses = c.weaknesses
	result.CreatedAt = a.now().UTC()
	result.ExecutionSummary = a.summarize(set, result.ExecutionSummary, start)

	a.metrics.ObserveOrchestration("scoring", mode)
	a.metrics.ObserveFinalScore(result.OverallScore)

	return result, totals(set, ScoringTemplate, &orchUsage), nil
}

func (a *Aggregator) fromModel(c collected, reply orchestrationReply, calculated float64) *types.OrchestrationResult {
	modelScore := reply.OverallScore
	final, overridden := Reconcile(&modelScore, calculated, a.opts.DivergenceThreshold)
	rounded := clampScore(int(math.Round(modelScore)))

	return &types.OrchestrationResult{
		OverallScore:         final,
		Category:             CategoryFor(final),
		KeyStrengths:         nonNil(reply.KeyStrengths),
		KeyWeaknesses:        nonNil(reply.KeyWeaknesses),
		RedFlags:             nonNil(reply.RedFlags),
		PositiveIndicators:   nonNil(reply.PositiveIndicators),
		HiringRecommendation: reply.HiringRecommendation,
		InterviewFocus:       nonNil(reply.InterviewFocus),
		ExecutionSummary: types.ExecutionSummary{
			ModelScore:      &rounded,
			CalculatedScore: clampScore(int(math.Round(calculated))),
			ScoreOverridden: overridden,
		},
	}
}

// localFallback synthesizes a complete verdict from the category scores and
// the analysis agents alone.
func (a *Aggregator) localFallback(c collected, calculated float64) *types.OrchestrationResult {
	final, _ := Reconcile(nil, calculated, a.opts.DivergenceThreshold)
	category := CategoryFor(final)

	redFlags := []string{}
	positives := []string{}
	focus := []string{}
	for _, kind := range a.opts.Weights.kinds() {
		entry := c.breakdown[string(kind)]
		label := CategoryLabel(kind)
		switch {
		case entry.Score < a.opts.RedFlagBelow:
			flag := fmt.Sprintf("%s scored %.0f/100", label, entry.Score)
			if entry.IsFallback {
				flag += " (assessment unavailable)"
			}
			redFlags = append(redFlags, flag)
			focus = append(focus, "Verify "+lowerFirst(label))
		case entry.Score >= a.opts.PositiveAtOrAbove:
			positives = append(positives, fmt.Sprintf("%s scored %.0f/100", label, entry.Score))
		}
	}

	keyStrengths := make([]string, 0, len(c.strengths))
	for _, s := range c.strengths {
		keyStrengths = append(keyStrengths, s.Title)
	}
	keyWeaknesses := make([]string, 0, len(c.weaknesses))
	for _, w := range c.weaknesses {
		keyWeaknesses = append(keyWeaknesses, w.Title)
		if w.Severity == "critical" || w.Severity == "major" {
			focus = append(focus, w.Title)
		}
	}

	return &types.OrchestrationResult{
		OverallScore:       final,
		Category:           category,
		KeyStrengths:       keyStrengths,
		KeyWeaknesses:      keyWeaknesses,
		RedFlags:           redFlags,
		PositiveIndicators: positives,
		HiringRecommendation: fmt.Sprintf("%s (%d/100). %s This verdict was derived from the category scores only.",
			category.Label, final, category.RecommendedAction),
		InterviewFocus: focus,
		ExecutionSummary: types.ExecutionSummary{
			CalculatedScore: final,
			LocalFallback:   true,
		},
	}
}

func (a *Aggregator) summarize(set *agents.ResultSet, s types.ExecutionSummary, start time.Time) types.ExecutionSummary {
	s.AgentsExecuted = set.Executed
	s.AgentsFallback = set.Fallbacks()
	s.AgentsFromCache = set.FromCache()
	s.AgentWallTimeMs = set.WallTime.Milliseconds()
	s.TotalTimeMs = set.WallTime.Milliseconds() + a.now().Sub(start).Milliseconds()
	return s
}

// record emits the activity event of an orchestration call and returns its usage.
func (a *Aggregator) record(ctx context.Context, pipeline, template string, in agents.Input, out *executor.Result, start time.Time) types.AgentUsage {
	usage := types.AgentUsage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		CachedTokens:     out.Usage.CachedTokens,
		TotalTokens:      out.Usage.TotalTokens,
		Cost:             out.Usage.Cost,
		CostSavings:      out.Usage.CostSavings,
	}
	a.metrics.ObserveUsage(out.Usage.Model, out.Usage.PromptTokens, out.Usage.CompletionTokens,
		out.Usage.CachedTokens, out.Usage.Cost, out.Usage.CostSavings)

	if a.recorder == nil {
		return usage
	}
	ev := types.AgentUsageEvent{
		EvaluationID:     in.EvaluationID,
		UserID:           in.UserID,
		Pipeline:         pipeline,
		Agent:            template,
		Model:            out.Usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CachedTokens:     usage.CachedTokens,
		TotalTokens:      usage.TotalTokens,
		Cost:             usage.Cost,
		CostSavings:      usage.CostSavings,
		Success:          out.Success,
		IsFallback:       !out.Success,
		DurationMs:       a.now().Sub(start).Milliseconds(),
		OccurredAt:       start,
	}
	if !out.Success {
		ev.ErrorKind = executor.Kind(out.Err)
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.recorder.RecordAgentUsage(recCtx, ev); err != nil {
		a.logger.Warn("failed to record orchestration usage", zap.String(logger.FieldTemplate, template), zap.Error(err))
	}
	return usage
}

// totals sums roster usage plus the orchestration call, when one was made.
func totals(set *agents.ResultSet, orchestration string, orch *types.AgentUsage) types.UsageTotals {
	var t types.UsageTotals
	for _, r := range set.Ordered() {
		t.Add(string(r.Kind), r.AgentUsage())
	}
	if orch != nil {
		t.Add(orchestration, *orch)
	}
	if t.PerAgent == nil {
		t.PerAgent = map[string]types.AgentUsage{}
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
