package db

import (
	"context"
	"fmt"

	"github.com/jonathan/match-orchestrator/internal/types"
)

// UsageRecorder persists agent activity events.
type UsageRecorder struct {
	db *DB
}

// UsageRecorder returns a recorder writing to agent_usage_events.
func (db *DB) UsageRecorder() *UsageRecorder {
	return &UsageRecorder{db: db}
}

// RecordAgentUsage inserts one activity event
func (r *UsageRecorder) RecordAgentUsage(ctx context.Context, ev types.AgentUsageEvent) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO agent_usage_events (
		     evaluation_id, user_id, pipeline, agent, model,
		     prompt_tokens, completion_tokens, cached_tokens, total_tokens,
		     cost, cost_savings, success, is_fallback, from_cache, error_kind,
		     duration_ms, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		ev.EvaluationID, nullIfEmpty(ev.UserID), ev.Pipeline, ev.Agent, nullIfEmpty(ev.Model),
		ev.PromptTokens, ev.CompletionTokens, ev.CachedTokens, ev.TotalTokens,
		ev.Cost, ev.CostSavings, ev.Success, ev.IsFallback, ev.FromCache, nullIfEmpty(ev.ErrorKind),
		ev.DurationMs, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record agent usage: %w", err)
	}
	return nil
}

// ListUsageEvents returns the events of one evaluation in insertion order
func (r *UsageRecorder) ListUsageEvents(ctx context.Context, evaluationID string) ([]types.AgentUsageEvent, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT evaluation_id, COALESCE(user_id, ''), pipeline, agent, COALESCE(model, ''),
		        prompt_tokens, completion_tokens, cached_tokens, total_tokens,
		        cost, cost_savings, success, is_fallback, from_cache, COALESCE(error_kind, ''),
		        duration_ms, occurred_at
		 FROM agent_usage_events WHERE evaluation_id = $1 ORDER BY id`,
		evaluationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	defer rows.Close()

	var events []types.AgentUsageEvent
	for rows.Next() {
		var ev types.AgentUsageEvent
		if err := rows.Scan(&ev.EvaluationID, &ev.UserID, &ev.Pipeline, &ev.Agent, &ev.Model,
			&ev.PromptTokens, &ev.CompletionTokens, &ev.CachedTokens, &ev.TotalTokens,
			&ev.Cost, &ev.CostSavings, &ev.Success, &ev.IsFallback, &ev.FromCache, &ev.ErrorKind,
			&ev.DurationMs, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UserCostSummary is the aggregated spend of one user
type UserCostSummary struct {
	Events      int64   `json:"events"`
	TotalTokens int64   `json:"total_tokens"`
	Cost        float64 `json:"cost"`
	CostSavings float64 `json:"cost_savings"`
}

// SummarizeUserUsage sums all recorded usage for a user
func (r *UsageRecorder) SummarizeUserUsage(ctx context.Context, userID string) (*UserCostSummary, error) {
	var s UserCostSummary
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost), 0), COALESCE(SUM(cost_savings), 0)
		 FROM agent_usage_events WHERE user_id = $1`,
		userID,
	).Scan(&s.Events, &s.TotalTokens, &s.Cost, &s.CostSavings)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return &s, nil
}
