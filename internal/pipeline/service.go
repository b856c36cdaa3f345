// Package pipeline exposes the scoring and tailoring operations.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/agents"
	"github.com/jonathan/match-orchestrator/internal/cache"
	"github.com/jonathan/match-orchestrator/internal/logger"
	"github.com/jonathan/match-orchestrator/internal/orchestration"
	"github.com/jonathan/match-orchestrator/internal/types"
	"github.com/jonathan/match-orchestrator/internal/validation"
)

// Pipeline names, used as progress categories and usage event pipelines.
const (
	PipelineScoring   = "scoring"
	PipelineTailoring = "tailoring"
)

// Progress steps besides the agent kinds.
const (
	StepOrchestration = "orchestration"
	StepCached        = "cached"
	StepComplete      = "complete"
)

// ProgressEvent represents a progress update during an evaluation
type ProgressEvent struct {
	Step         string `json:"step"`
	Category     string `json:"category"`
	Message      string `json:"message"`
	EvaluationID string `json:"evaluation_id,omitempty"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	IsFallback   bool   `json:"is_fallback,omitempty"`
	FromCache    bool   `json:"from_cache,omitempty"`
	Content      any    `json:"content,omitempty"`
}

// ProgressCallback is called when evaluation progress occurs. Calls are serialized.
type ProgressCallback func(event ProgressEvent)

// ScoreRequest asks for a candidate-to-job score. A nil Profile or Job is
// resolved from the user's saved default profile or current job.
type ScoreRequest struct {
	UserID  string
	Profile *types.CandidateProfile
	Job     *types.JobPosting
	// Refresh ignores cached results; fresh results are still cached.
	Refresh bool
}

// ScoreResponse is the verdict plus the usage of every call made for it.
type ScoreResponse struct {
	Result *types.OrchestrationResult `json:"result"`
	Usage  types.UsageTotals          `json:"usage"`
}

// TailorRequest asks for a document rewritten for a job. A nil Job is
// resolved from the user's current job.
type TailorRequest struct {
	UserID          string
	Document        string
	Job             *types.JobPosting
	ScoringAnalysis *types.OrchestrationResult
	UserRequest     string
	Refresh         bool
}

// TailorResponse is the tailored document plus usage.
type TailorResponse struct {
	Result *types.TailoringResult `json:"result"`
	Usage  types.UsageTotals      `json:"usage"`
}

// Service runs both pipelines. It is safe for concurrent use.
type Service struct {
	dispatcher *agents.Dispatcher
	aggregator *orchestration.Aggregator
	cache      *cache.Cache
	logger     *zap.Logger
	scoring    agents.Roster
	tailoring  agents.Roster
	now        func() time.Time
	newID      func() string
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching and saved profiles and jobs.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNop(l) }
}

// WithIDGenerator replaces the evaluation id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// NewService creates a Service.
func NewService(dispatcher *agents.Dispatcher, aggregator *orchestration.Aggregator, opts ...Option) *Service {
	s := &Service{
		dispatcher: dispatcher,
		aggregator: aggregator,
		logger:     zap.NewNop(),
		scoring:    agents.ScoringRoster(),
		tailoring:  agents.TailoringRoster(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreCandidateAgainstJob scores a candidate against a job. Individual agent
// or orchestration failures never fail the call; errors are returned for
// invalid input, a *executor.TemplateError, or cancellation.
func (s *Service) ScoreCandidateAgainstJob(ctx context.Context, req ScoreRequest, progress ProgressCallback) (*ScoreResponse, error) {
	start := s.now()

	profile, err := s.resolveProfile(ctx, req.UserID, req.Profile)
	if err != nil {
		return nil, err
	}
	job, err := s.resolveJob(ctx, req.UserID, req.Job)
	if err != nil {
		return nil, err
	}

	hash, err := types.ContentHash(PipelineScoring, profile, job)
	if err != nil {
		return nil, err
	}

	if !req.Refresh {
		var cached ScoreResponse
		if s.cachedResult(ctx, req.UserID, hash, &cached) && cached.Result != nil {
			cached.Result.ExecutionSummary.FromCache = true
			cached.Usage = savedUsage(cached.Usage)
			emit(progress, ProgressEvent{
				Step: StepCached, Category: PipelineScoring, Message: "served from cache",
				EvaluationID: cached.Result.EvaluationID, FromCache: true,
			})
			return &cached, nil
		}
	}

	evalID := s.newID()
	log := s.logger.With(zap.String("evaluation_id", evalID), zap.String(logger.FieldUser, req.UserID))
	in := agents.Input{
		EvaluationID: evalID,
		UserID:       req.UserID,
		Vars: map[string]string{
			agents.VarJobPosting:       validation.Guard(log, "job posting", job.ForPrompt()),
			agents.VarCandidateProfile: validation.Guard(log, "candidate profile", profile.ForPrompt()),
		},
		ContentHash: agentHash(hash, req.Refresh),
	}

	set, err := s.dispatcher.Run(ctx, s.scoring, in, agentProgress(progress, PipelineScoring, evalID))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(progress, ProgressEvent{
		Step: StepOrchestration, Category: PipelineScoring, Message: "combining agent results",
		EvaluationID: evalID, Completed: len(set.Results), Total: len(s.scoring.Agents),
	})
	result, usage, err := s.aggregator.Combine(ctx, set, in)
	if err != nil {
		return nil, err
	}
	result.ExecutionSummary.TotalTimeMs = s.now().Sub(start).Milliseconds()

	resp := &ScoreResponse{Result: result, Usage: usage}
	if set.Fallbacks() == 0 && !result.ExecutionSummary.LocalFallback {
		s.storeResult(ctx, req.UserID, hash, resp)
	}

	log.Info("candidate scored",
		zap.Int("overall_score", result.OverallScore),
		zap.String("category", result.Category.Name),
		zap.Int("agents_fallback", result.ExecutionSummary.AgentsFallback),
		zap.Bool("score_overridden", result.ExecutionSummary.ScoreOverridden),
		zap.Bool("local_fallback", result.ExecutionSummary.LocalFallback),
		zap.Float64("cost", usage.Cost))
	emit(progress, ProgressEvent{
		Step: StepComplete, Category: PipelineScoring,
		Message:      fmt.Sprintf("overall score %d (%s)", result.OverallScore, result.Category.Name),
		EvaluationID: evalID, Completed: len(set.Results), Total: len(s.scoring.Agents),
		Content: result,
	})
	return resp, nil
}

// TailorDocumentForJob rewrites a document for a job. Failures of the
// orchestration step return the original document with the suggestions
// listed as not applied.
func (s *Service) TailorDocumentForJob(ctx context.Context, req TailorRequest, progress ProgressCallback) (*TailorResponse, error) {
	start := s.now()

	if strings.TrimSpace(req.Document) == "" {
		return nil, &InputError{Field: "document", Err: errors.New("must not be empty")}
	}
	job, err := s.resolveJob(ctx, req.UserID, req.Job)
	if err != nil {
		return nil, err
	}

	analysis := ""
	if req.ScoringAnalysis != nil {
		data, err := json.MarshalIndent(analysisForPrompt(req.ScoringAnalysis), "", "  ")
		if err != nil {
			return nil, &InputError{Field: "scoring_analysis", Err: err}
		}
		analysis = string(data)
	}

	hash, err := types.ContentHash(PipelineTailoring, req.Document, job, analysis, req.UserRequest)
	if err != nil {
		return nil, err
	}

	if !req.Refresh {
		var cached TailorResponse
		if s.cachedResult(ctx, req.UserID, hash, &cached) && cached.Result != nil {
			cached.Result.ExecutionSummary.FromCache = true
			cached.Usage = savedUsage(cached.Usage)
			emit(progress, ProgressEvent{
				Step: StepCached, Category: PipelineTailoring, Message: "served from cache",
				EvaluationID: cached.Result.EvaluationID, FromCache: true,
			})
			return &cached, nil
		}
	}

	evalID := s.newID()
	log := s.logger.With(zap.String("evaluation_id", evalID), zap.String(logger.FieldUser, req.UserID))
	in := agents.Input{
		EvaluationID: evalID,
		UserID:       req.UserID,
		Vars: map[string]string{
			agents.VarDocument:        validation.Guard(log, "document", req.Document),
			agents.VarJobPosting:      validation.Guard(log, "job posting", job.ForPrompt()),
			agents.VarScoringAnalysis: analysis,
			agents.VarUserRequest:     validation.Guard(log, "candidate request", req.UserRequest),
		},
		ContentHash: agentHash(hash, req.Refresh),
	}

	set, err := s.dispatcher.Run(ctx, s.tailoring, in, agentProgress(progress, PipelineTailoring, evalID))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(progress, ProgressEvent{
		Step: StepOrchestration, Category: PipelineTailoring, Message: "merging suggestions",
		EvaluationID: evalID, Completed: len(set.Results), Total: len(s.tailoring.Agents),
	})
	result, usage, err := s.aggregator.Merge(ctx, set, in, req.Document)
	if err != nil {
		return nil, err
	}
	result.ExecutionSummary.TotalTimeMs = s.now().Sub(start).Milliseconds()

	resp := &TailorResponse{Result: result, Usage: usage}
	if set.Fallbacks() == 0 && !result.ExecutionSummary.LocalFallback {
		s.storeResult(ctx, req.UserID, hash, resp)
	}

	log.Info("document tailored",
		zap.Int("length", len([]rune(result.FinalDocument))),
		zap.Bool("truncated", result.Truncated),
		zap.Int("agents_fallback", result.ExecutionSummary.AgentsFallback),
		zap.Bool("local_fallback", result.ExecutionSummary.LocalFallback),
		zap.Float64("cost", usage.Cost))
	emit(progress, ProgressEvent{
		Step: StepComplete, Category: PipelineTailoring, Message: "document tailored",
		EvaluationID: evalID, Completed: len(set.Results), Total: len(s.tailoring.Agents),
		Content: result,
	})
	return resp, nil
}

// SetCurrentJob makes job the user's single current job.
func (s *Service) SetCurrentJob(ctx context.Context, userID string, job *types.JobPosting) error {
	if job == nil {
		return &InputError{Field: "job", Err: errors.New("is required")}
	}
	if err := job.Validate(); err != nil {
		return &InputError{Field: "job", Err: err}
	}
	return s.saveCurrent(ctx, userID, cache.CurrentJob, job)
}

// SaveDefaultProfile makes profile the user's default candidate profile.
func (s *Service) SaveDefaultProfile(ctx context.Context, userID string, profile *types.CandidateProfile) error {
	if profile == nil {
		return &InputError{Field: "profile", Err: errors.New("is required")}
	}
	if err := profile.Validate(); err != nil {
		return &InputError{Field: "profile", Err: err}
	}
	return s.saveCurrent(ctx, userID, cache.DefaultProfile, profile)
}

// CurrentJob returns the user's current job, if one is set and not expired.
func (s *Service) CurrentJob(ctx context.Context, userID string) (*types.JobPosting, bool) {
	var job types.JobPosting
	if !s.loadCurrent(ctx, userID, cache.CurrentJob, &job) {
		return nil, false
	}
	return &job, true
}

// DefaultProfile returns the user's default profile, if one is saved and not expired.
func (s *Service) DefaultProfile(ctx context.Context, userID string) (*types.CandidateProfile, bool) {
	var p types.CandidateProfile
	if !s.loadCurrent(ctx, userID, cache.DefaultProfile, &p) {
		return nil, false
	}
	return &p, true
}

func (s *Service) resolveProfile(ctx context.Context, userID string, p *types.CandidateProfile) (*types.CandidateProfile, error) {
	if p == nil {
		saved, ok := s.DefaultProfile(ctx, userID)
		if !ok {
			return nil, ErrNoProfile
		}
		p = saved
	}
	if err := p.Validate(); err != nil {
		return nil, &InputError{Field: "profile", Err: err}
	}
	return p, nil
}

func (s *Service) resolveJob(ctx context.Context, userID string, j *types.JobPosting) (*types.JobPosting, error) {
	if j == nil {
		saved, ok := s.CurrentJob(ctx, userID)
		if !ok {
			return nil, ErrNoJob
		}
		j = saved
	}
	if err := j.Validate(); err != nil {
		return nil, &InputError{Field: "job", Err: err}
	}
	return j, nil
}

func (s *Service) saveCurrent(ctx context.Context, userID string, kind cache.Kind, v any) error {
	if userID == "" {
		return ErrAnonymous
	}
	if s.cache == nil {
		return ErrCacheDisabled
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	hash, err := types.ContentHash(v)
	if err != nil {
		return err
	}
	s.cache.SetCurrent(ctx, userID, kind, hash, payload)
	return nil
}

func (s *Service) loadCurrent(ctx context.Context, userID string, kind cache.Kind, v any) bool {
	payload, ok := s.cache.GetCurrent(ctx, userID, kind)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		s.logger.Warn("discarding unreadable cache entry", zap.String("cache_kind", string(kind)), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) cachedResult(ctx context.Context, userID, hash string, v any) bool {
	payload, ok := s.cache.Get(ctx, userID, cache.ProcessingResult, hash)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		s.logger.Warn("discarding unreadable processing result", zap.Error(err))
		return false
	}
	return true
}

func (s *Service) storeResult(ctx context.Context, userID, hash string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode processing result", zap.Error(err))
		return
	}
	s.cache.Put(ctx, userID, cache.ProcessingResult, hash, payload, 0)
}

// agentHash disables agent-level caching for refresh requests.
func agentHash(hash string, refresh bool) string {
	if refresh {
		return ""
	}
	return hash
}

// savedUsage converts the usage of a cached response: nothing is billed and
// the original cost is saved.
func savedUsage(u types.UsageTotals) types.UsageTotals {
	return types.UsageTotals{
		CostSavings: u.Cost + u.CostSavings,
		PerAgent:    map[string]types.AgentUsage{},
	}
}

// analysisForPrompt keeps the parts of a scoring verdict that help tailoring.
func analysisForPrompt(r *types.OrchestrationResult) any {
	return struct {
		OverallScore       int      `json:"overall_score"`
		Category           string   `json:"category"`
		KeyStrengths       []string `json:"key_strengths"`
		KeyWeaknesses      []string `json:"key_weaknesses"`
		RedFlags           []string `json:"red_flags,omitempty"`
		PositiveIndicators []string `json:"positive_indicators,omitempty"`
	}{
		OverallScore:       r.OverallScore,
		Category:           r.Category.Name,
		KeyStrengths:       r.KeyStrengths,
		KeyWeaknesses:      r.KeyWeaknesses,
		RedFlags:           r.RedFlags,
		PositiveIndicators: r.PositiveIndicators,
	}
}

func emit(progress ProgressCallback, ev ProgressEvent) {
	if progress != nil {
		progress(ev)
	}
}

// agentProgress adapts dispatcher progress to ProgressEvents.
func agentProgress(progress ProgressCallback, pipeline, evalID string) agents.ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(res agents.Result, completed, total int) {
		msg := fmt.Sprintf("%s finished (%d/%d)", res.Kind, completed, total)
		switch {
		case res.FromCache:
			msg = fmt.Sprintf("%s served from cache (%d/%d)", res.Kind, completed, total)
		case res.IsFallback:
			msg = fmt.Sprintf("%s failed, using fallback (%d/%d)", res.Kind, completed, total)
		}
		progress(ProgressEvent{
			Step:         string(res.Kind),
			Category:     pipeline,
			Message:      msg,
			EvaluationID: evalID,
			Completed:    completed,
			Total:        total,
			IsFallback:   res.IsFallback,
			FromCache:    res.FromCache,
		})
	}
}
