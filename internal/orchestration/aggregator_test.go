package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/match-orchestrator/internal/agents"
	"github.com/jonathan/match-orchestrator/internal/executor"
	"github.com/jonathan/match-orchestrator/internal/llm"
	"github.com/jonathan/match-orchestrator/internal/prompts"
	"github.com/jonathan/match-orchestrator/internal/testutil"
	"github.com/jonathan/match-orchestrator/internal/types"
)

const scoringMarker = "head of talent acquisition"

var orchUsage = llm.Usage{PromptTokens: 3000, CompletionTokens: 600, TotalTokens: 3600}

func newTestAggregator(t *testing.T, client llm.Client, opts ...Option) *Aggregator {
	t.Helper()
	exec := executor.New(client, prompts.MustLoad(), executor.Options{MaxAttempts: 1}, nil)
	a, err := NewAggregator(exec, Options{}, opts...)
	require.NoError(t, err)
	return a
}

func scoreResult(kind agents.Kind, score float64, fallback bool) agents.Result {
	out, _ := json.Marshal(agents.ScoreOutput{Score: score, Reasoning: fmt.Sprintf("%s reasoning", kind)})
	return agents.Result{
		Kind:       kind,
		Output:     out,
		Success:    !fallback,
		IsFallback: fallback,
		Usage: executor.Usage{
			Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
			Cost:  0.001,
		},
	}
}

func scoringSet(scores map[agents.Kind]float64, fallback map[agents.Kind]bool) *agents.ResultSet {
	set := &agents.ResultSet{
		Roster:   "scoring",
		Results:  make(map[agents.Kind]agents.Result),
		WallTime: 1500 * time.Millisecond,
	}
	for _, k := range agents.ScoringKinds {
		s, ok := scores[k]
		if !ok {
			continue
		}
		set.Results[k] = scoreResult(k, s, fallback[k])
		set.Order = append(set.Order, k)
	}
	set.Results[agents.Strengths] = agents.Result{
		Kind:    agents.Strengths,
		Output:  json.RawMessage(`{"strengths": [{"title": "Deep Go experience", "description": "8 years"}]}`),
		Success: true,
	}
	set.Results[agents.Weaknesses] = agents.Result{
		Kind: agents.Weaknesses,
		Output: json.RawMessage(`{"weaknesses": [
			{"title": "No Kubernetes", "description": "required", "severity": "major"},
			{"title": "Short tenure", "description": "one role", "severity": "minor"}]}`),
		Success: true,
	}
	set.Order = append(set.Order, agents.Strengths, agents.Weaknesses)
	set.Executed = len(set.Results)
	return set
}

func scoringIn() agents.Input {
	return agents.Input{
		EvaluationID: "eval-42",
		UserID:       "user-1",
		Vars: map[string]string{
			agents.VarJobPosting:       `{"title": "Backend Engineer"}`,
			agents.VarCandidateProfile: `{"skills": ["Go"]}`,
		},
	}
}

func modelReply(score float64) string {
	return fmt.Sprintf(`{"overallScore": %v, "keyStrengths": ["Go"], "keyWeaknesses": ["Kubernetes"],
		"hiringRecommendation": "Interview", "interviewFocus": ["Cluster operations"]}`, score)
}

func TestCombine_KeepsModelScoreWithinThreshold(t *testing.T) {
	client := &testutil.MockLLMClient{CompleteFunc: testutil.RoutedComplete("gpt-4o",
		testutil.Route{Err: errors.New("unrouted")},
		testutil.Route{Match: scoringMarker, Text: modelReply(78), Usage: orchUsage})}
	a := newTestAggregator(t, client)

	res, totals, err := a.Combine(context.Background(), scoringSet(uniformScores(75), nil), scoringIn())
	require.NoError(t, err)

	assert.Equal(t, 78, res.OverallScore)
	assert.Equal(t, "good", res.Category.Name)
	assert.False(t, res.ExecutionSummary.ScoreOverridden)
	assert.False(t, res.ExecutionSummary.LocalFallback)
	require.NotNil(t, res.ExecutionSummary.ModelScore)
	assert.Equal(t, 78, *res.ExecutionSummary.ModelScore)
	assert.Equal(t, 75, res.ExecutionSummary.CalculatedScore)
	assert.Equal(t, "Interview", res.HiringRecommendation)
	assert.Equal(t, []string{"Go"}, res.KeyStrengths)
	assert.NotNil(t, res.RedFlags)
	assert.Equal(t, "eval-42", res.EvaluationID)
	assert.Len(t, res.Breakdown, 6)
	assert.Len(t, res.Strengths, 1)
	assert.Len(t, res.Weaknesses, 2)
	assert.Equal(t, 8, res.ExecutionSummary.AgentsExecuted)
	assert.Equal(t, int64(1500), res.ExecutionSummary.AgentWallTimeMs)

	// 6 scoring results carry usage; the analysis results carry none.
	assert.Equal(t, 6*150+3600, totals.TotalTokens)
	assert.Equal(t, 9, totals.Calls)
	assert.Contains(t, totals.PerAgent, ScoringTemplate)

	req := client.RequestsContaining(scoringMarker)
	require.Len(t, req, 1)
	assert.Contains(t, req[0].User, `"agent": "technical-skills"`)
	assert.Contains(t, req[0].User, "Deep Go experience")
}

func TestCombine_OverridesDivergentModelScore(t *testing.T) {
	client := &testutil.MockLLMClient{CompleteFunc: testutil.RoutedComplete("gpt-4o",
		testutil.Route{Match: scoringMarker, Text: modelReply(95)})}
	a := newTestAggregator(t, client)

	res, _, err := a.Combine(context.Background(), scoringSet(uniformScores(60), nil), scoringIn())
	require.NoError(t, err)

	assert.Equal(t, 60, res.OverallScore)
	assert.Equal(t, "fair", res.Category.Name)
	assert.True(t, res.ExecutionSummary.ScoreOverridden)
	assert.Equal(t, 95, *res.ExecutionSummary.ModelScore)
}

func TestCombine_LocalFallbackWhenOrchestrationFails(t *testing.T) {
	client := &testutil.MockLLMClient{CompleteFunc: testutil.RoutedComplete("gpt-4o",
		testutil.Route{Err: errors.New("outage")})}
	a := newTestAggregator(t, client)

	scores := map[agents.Kind]float64{
		agents.TechnicalSkills:   90,
		agents.ExperienceDepth:   85,
		agents.Achievements:      70,
		agents.Education:         30,
		agents.SoftSkills:        60,
		agents.CareerProgression: 80,
	}
	res, totals, err := a.Combine(context.Background(), scoringSet(scores, nil), scoringIn())
	require.NoError(t, err)

	// 90*.25 + 85*.25 + 70*.2 + 30*.1 + 60*.1 + 80*.1 = 74.75
	assert.Equal(t, 75, res.OverallScore)
	assert.Equal(t, "good", res.Category.Name)
	assert.True(t, res.ExecutionSummary.LocalFallback)
	assert.Nil(t, res.ExecutionSummary.ModelScore)
	assert.Equal(t, []string{"Education scored 30/100"}, res.RedFlags)
	assert.Equal(t, []string{
		"Technical skills scored 90/100",
		"Experience depth scored 85/100",
		"Career progression scored 80/100",
	}, res.PositiveIndicators)
	assert.Equal(t, []string{"Deep Go experience"}, res.KeyStrengths)
	assert.Equal(t, []string{"No Kubernetes", "Short tenure"}, res.KeyWeaknesses)
	assert.Contains(t, res.InterviewFocus, "No Kubernetes")
	assert.Contains(t, res.InterviewFocus, "Verify education")
	assert.NotContains(t, res.InterviewFocus, "Short tenure")
	assert.Contains(t, res.HiringRecommendation, "Good match")
	assert.Equal(t, 9, totals.Calls, "the failed orchestration call is still billed")
}

func TestCombine_TotalOutageStillProducesCompleteResult(t *testing.T) {
	client := &testutil.MockLLMClient{CompleteFunc: testutil.RoutedComplete("gpt-4o",
		testutil.Route{Err: errors.New("outage")})}
	a := newTestAggregator(t, client)

	fallbacks := map[agents.Kind]bool{}
	for _, k := range agents.ScoringKinds {
		fallbacks[k] = true
	}
	set := scoringSet(uniformScores(agents.DefaultFallbackScore), fallbacks)
	set.Results[agents.Strengths] = agents.Result{Kind: agents.Strengths, Output: json.RawMessage(`{"strengths": []}`), IsFallback: true}
	set.Results[agents.Weaknesses] = agents.Result{Kind: agents.Weaknesses, Output: json.RawMessage(`{"weaknesses": []}`), IsFallback: true}

	res, _, err := a.Combine(context.Background(), set, scoringIn())
	require.NoError(t, err)

	assert.Equal(t, agents.DefaultFallbackScore, res.OverallScore)
	assert.Equal(t, "poor", res.Category.Name)
	assert.NotEmpty(t, res.HiringRecommendation)
	assert.Len(t, res.RedFlags, 6)
	assert.Contains(t, res.RedFlags[0], "assessment unavailable")
	assert.NotNil(t, res.KeyStrengths)
	assert.NotNil(t, res.KeyWeaknesses)
	assert.NotNil(t, res.PositiveIndicators)
	assert.Equal(t, 8, res.ExecutionSummary.AgentsFallback)
	for _, entry := range res.Breakdown {
		assert.True(t, entry.IsFallback)
		assert.Contains(t, entry.Reasoning, "[fallback]")
	}
}

func TestCombine_MissingKindCountsAtFallbackScore(t *testing.T) {
	client := &testutil.MockLLMClient{CompleteFunc: testutil.RoutedComplete("gpt-4o",
		testutil.Route{Err: errors.New("outage")})}
	a := newTestAggregator(t, client)

	scores := uniformScores(95)
	delete(scores, agents.TechnicalSkills)
	res, _, err := a.Combine(context.Background(), scoringSet(scores, nil), scoringIn())
	require.NoError(t, err)

	// 35*.25 + 95*.75 = 80
	assert.Equal(t, 80, res.OverallScore)
	entry := res.Breakdown[string(agents.TechnicalSkills)]
	assert.True(t, entry.IsFallback)
	assert.Equal(t, 35.0, entry.Score)
	assert.Equal(t, 0.25, entry.Weight)
}

func TestCombine_MissingVariableIsTemplateError(t *testing.T) {
	a := newTestAggregator(t, &testutil.MockLLMClient{})

	in := scoringIn()
	delete(in.Vars, agents.VarCandidateProfile)
	res, _, err := a.Combine(context.Background(), scoringSet(uniformScores(70), nil), in)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, executor.IsTemplateError(err))
}

type eventSink struct {
	mu     sync.Mutex
	events []types.AgentUsageEvent
}

func (s *eventSink) RecordAgentUsage(_ context.Context, ev types.AgentUsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestCombine_RecordsOrchestrationEvent(t *testing.T) {
	client := &testutil.MockLLMClient{CompleteFunc: testutil.RoutedComplete("gpt-4o",
		testutil.Route{Match: scoringMarker, Text: modelReply(70), Usage: orchUsage})}
	sink := &eventSink{}
	a := newTestAggregator(t, client, WithUsageRecorder(sink))

	_, _, err := a.Combine(context.Background(), scoringSet(uniformScores(70), nil), scoringIn())
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, ScoringTemplate, ev.Agent)
	assert.Equal(t, "scoring", ev.Pipeline)
	assert.Equal(t, "eval-42", ev.EvaluationID)
	assert.Equal(t, 3600, ev.TotalTokens)
	assert.True(t, ev.Success)
}

func TestNewAggregator_Defaults(t *testing.T) {
	a := newTestAggregator(t, &testutil.MockLLMClient{})
	opts := a.Options()
	assert.Equal(t, 25.0, opts.DivergenceThreshold)
	assert.Equal(t, 35.0, opts.FallbackScore)
	assert.Equal(t, 40.0, opts.RedFlagBelow)
	assert.Equal(t, 80.0, opts.PositiveAtOrAbove)
	assert.Equal(t, 12000, opts.MaxDocumentLength)
}

func TestNewAggregator_RejectsZeroWeights(t *testing.T) {
	exec := executor.New(&testutil.MockLLMClient{}, prompts.MustLoad(), executor.Options{}, nil)
	_, err := NewAggregator(exec, Options{Weights: Weights{agents.TechnicalSkills: 0}})
	require.Error(t, err)
}
