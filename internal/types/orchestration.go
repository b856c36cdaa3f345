package types

import "time"

// ScoreCategory is one band of the final score
type ScoreCategory struct {
	Name              string `json:"name"`
	Min               int    `json:"min"`
	Max               int    `json:"max"`
	Label             string `json:"label"`
	Description       string `json:"description"`
	RecommendedAction string `json:"recommended_action"`
}

// CategoryScore is the breakdown entry for one scoring agent
type CategoryScore struct {
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
	Reasoning  string  `json:"reasoning"`
	IsFallback bool    `json:"is_fallback"`
}

// Strength is a qualitative finding from the strengths agent
type Strength struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Relevance   string   `json:"relevance,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Weakness is a qualitative finding from the weaknesses agent
type Weakness struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Severity        string           `json:"severity"`
	ImprovementPlan *ImprovementPlan `json:"improvementPlan,omitempty"`
}

// ImprovementPlan is a remediation plan split by horizon
type ImprovementPlan struct {
	ShortTerm []string `json:"shortTerm,omitempty"`
	MidTerm   []string `json:"midTerm,omitempty"`
	LongTerm  []string `json:"longTerm,omitempty"`
}

// ExecutionSummary describes how a result was produced
type ExecutionSummary struct {
	AgentsExecuted  int   `json:"agents_executed"`
	AgentsFallback  int   `json:"agents_fallback"`
	AgentsFromCache int   `json:"agents_from_cache"`
	AgentWallTimeMs int64 `json:"agent_wall_time_ms"`
	TotalTimeMs     int64 `json:"total_time_ms"`
	ModelScore      *int  `json:"model_score,omitempty"`
	CalculatedScore int   `json:"calculated_score"`
	ScoreOverridden bool  `json:"score_overridden"`
	LocalFallback   bool  `json:"local_fallback"`
	FromCache       bool  `json:"from_cache"`
}

// OrchestrationResult is the final match verdict
type OrchestrationResult struct {
	EvaluationID         string                   `json:"evaluation_id"`
	OverallScore         int                      `json:"overall_score"`
	Category             ScoreCategory            `json:"category"`
	Breakdown            map[string]CategoryScore `json:"breakdown"`
	KeyStrengths         []string                 `json:"key_strengths"`
	KeyWeaknesses        []string                 `json:"key_weaknesses"`
	Strengths            []Strength               `json:"strengths"`
	Weaknesses           []Weakness               `json:"weaknesses"`
	RedFlags             []string                 `json:"red_flags"`
	PositiveIndicators   []string                 `json:"positive_indicators"`
	HiringRecommendation string                   `json:"hiring_recommendation"`
	InterviewFocus       []string                 `json:"interview_focus"`
	ExecutionSummary     ExecutionSummary         `json:"execution_summary"`
	CreatedAt            time.Time                `json:"created_at"`
}

// AgentUsage is the usage attributed to one agent or orchestration call
type AgentUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CachedTokens     int     `json:"cached_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
	CostSavings      float64 `json:"cost_savings"`
	FromCache        bool    `json:"from_cache,omitempty"`
}

// UsageTotals sums usage across every call made for one request
type UsageTotals struct {
	PromptTokens     int                   `json:"prompt_tokens"`
	CompletionTokens int                   `json:"completion_tokens"`
	CachedTokens     int                   `json:"cached_tokens"`
	TotalTokens      int                   `json:"total_tokens"`
	Cost             float64               `json:"cost"`
	CostSavings      float64               `json:"cost_savings"`
	Calls            int                   `json:"calls"`
	PerAgent         map[string]AgentUsage `json:"per_agent"`
}

// Add folds one call's usage into the totals under name.
func (u *UsageTotals) Add(name string, a AgentUsage) {
	u.PromptTokens += a.PromptTokens
	u.CompletionTokens += a.CompletionTokens
	u.CachedTokens += a.CachedTokens
	u.TotalTokens += a.TotalTokens
	u.Cost += a.Cost
	u.CostSavings += a.CostSavings
	if !a.FromCache {
		u.Calls++
	}
	if u.PerAgent == nil {
		u.PerAgent = make(map[string]AgentUsage)
	}
	u.PerAgent[name] = a
}

// TailoringSuggestion is one proposed change from a tailoring agent
type TailoringSuggestion struct {
	Original  string `json:"original,omitempty"`
	Change    string `json:"change"`
	Rationale string `json:"rationale,omitempty"`
}

// SectionSuggestions is the output of one tailoring agent
type SectionSuggestions struct {
	Agent            string                `json:"agent"`
	Section          string                `json:"section"`
	Suggestions      []TailoringSuggestion `json:"suggestions"`
	RewrittenContent string                `json:"rewrittenContent,omitempty"`
	KeywordsAdded    []string              `json:"keywordsAdded,omitempty"`
	Confidence       float64               `json:"confidence,omitempty"`
	IsFallback       bool                  `json:"is_fallback"`
}

// TailoringResult is the final tailored document
type TailoringResult struct {
	EvaluationID     string               `json:"evaluation_id"`
	FinalDocument    string               `json:"final_document"`
	ChangeSummary    string               `json:"change_summary"`
	Suggestions      []SectionSuggestions `json:"suggestions"`
	Truncated        bool                 `json:"truncated"`
	ExecutionSummary ExecutionSummary     `json:"execution_summary"`
	CreatedAt        time.Time            `json:"created_at"`
}

// AgentUsageEvent is the activity record of one agent or orchestration call
type AgentUsageEvent struct {
	EvaluationID     string    `json:"evaluation_id"`
	UserID           string    `json:"user_id,omitempty"`
	Pipeline         string    `json:"pipeline"`
	Agent            string    `json:"agent"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CachedTokens     int       `json:"cached_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	CostSavings      float64   `json:"cost_savings"`
	Success          bool      `json:"success"`
	IsFallback       bool      `json:"is_fallback"`
	FromCache        bool      `json:"from_cache"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	OccurredAt       time.Time `json:"occurred_at"`
}
