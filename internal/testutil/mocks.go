// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/jonathan/match-orchestrator/internal/llm"
)

// MockLLMClient is a mock implementation of llm.Client for testing
type MockLLMClient struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)
	Model        string

	mu        sync.Mutex
	CallCount int
	Requests  []llm.Request
}

func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.CallCount++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	// Default: an empty JSON object with token usage
	return &llm.Response{Text: "{}", Model: m.GetModel(req.Tier), Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (m *MockLLMClient) GetModel(llm.ModelTier) string {
	if m.Model == "" {
		return "gpt-4o-mini"
	}
	return m.Model
}

func (m *MockLLMClient) Provider() llm.Provider {
	return llm.ProviderOpenAI
}

func (m *MockLLMClient) Close() error {
	return nil
}

// Calls returns the number of Complete calls so far.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// RequestsContaining returns recorded requests whose system text contains substr.
func (m *MockLLMClient) RequestsContaining(substr string) []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []llm.Request
	for _, r := range m.Requests {
		if strings.Contains(r.System, substr) {
			out = append(out, r)
		}
	}
	return out
}

// Route maps a substring of the system prompt to a reply. The first route
// whose Match appears in the request's system text wins.
type Route struct {
	Match string
	Text  string
	Err   error
	Usage llm.Usage
}

// RoutedComplete builds a CompleteFunc that answers from routes. Requests
// matching no route get fallback.
func RoutedComplete(model string, fallback Route, routes ...Route) func(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := fallback
		for _, candidate := range routes {
			if strings.Contains(req.System, candidate.Match) {
				r = candidate
				break
			}
		}
		if r.Err != nil {
			return &llm.Response{Model: model, Usage: r.Usage}, r.Err
		}
		return &llm.Response{Text: r.Text, Model: model, Usage: r.Usage}, nil
	}
}
