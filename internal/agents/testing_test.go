package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/match-orchestrator/internal/executor"
	"github.com/jonathan/match-orchestrator/internal/llm"
	"github.com/jonathan/match-orchestrator/internal/prompts"
	"github.com/jonathan/match-orchestrator/internal/testutil"
	"github.com/jonathan/match-orchestrator/internal/types"
)

// Distinctive fragments of each scoring template's system prompt.
var systemMarkers = map[Kind]string{
	TechnicalSkills:   "senior technical recruiter",
	ExperienceDepth:   "experienced hiring manager",
	Achievements:      "executive recruiter",
	Education:         "admissions-minded recruiter",
	SoftSkills:        "organizational psychologist",
	CareerProgression: "career coach who reads trajectories",
	Strengths:         "hiring panel briefing",
	Weaknesses:        "candid career advisor",
}

var okUsage = llm.Usage{PromptTokens: 1000, CompletionTokens: 200, TotalTokens: 1200}

func newTestRunner(t *testing.T, client llm.Client, opts ...RunnerOption) *Runner {
	t.Helper()
	exec := executor.New(client, prompts.MustLoad(), executor.Options{MaxAttempts: 2}, nil)
	r, err := NewRunner(exec, []Roster{ScoringRoster(), TailoringRoster()}, opts...)
	require.NoError(t, err)
	return r
}

func scoringInput() Input {
	profile := &types.CandidateProfile{Skills: []string{"Go", "PostgreSQL"}}
	job := &types.JobPosting{Title: "Backend Engineer", Description: "Go services"}
	return Input{
		EvaluationID: "eval-1",
		UserID:       "user-1",
		Vars: map[string]string{
			VarJobPosting:       job.ForPrompt(),
			VarCandidateProfile: profile.ForPrompt(),
		},
		ContentHash: "content-1",
	}
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []types.AgentUsageEvent
	err    error
}

func (r *recordingRecorder) RecordAgentUsage(_ context.Context, ev types.AgentUsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingRecorder) Events() []types.AgentUsageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.AgentUsageEvent(nil), r.events...)
}

func scoreRoute(kind Kind, body string) testutil.Route {
	return testutil.Route{Match: systemMarkers[kind], Text: body, Usage: okUsage}
}
