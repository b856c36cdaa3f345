package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is an abstraction over completion providers
type Client interface {
	// Complete sends one system+user exchange and returns the generated text with usage
	Complete(ctx context.Context, req Request) (*Response, error)
	// GetModel returns the provider model configured for a tier
	GetModel(tier ModelTier) string
	// Provider names the backing provider
	Provider() Provider
	// Close releases any resources held by the client
	Close() error
}

// Request is a single completion call.
type Request struct {
	Tier        ModelTier
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON object reply when it supports it.
	JSON bool
	// UserTag identifies the caller to the provider for cache isolation.
	UserTag string
}

// Response is the provider reply for a Request.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CachedTokens     int `json:"cached_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		CachedTokens:     u.CachedTokens + o.CachedTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ProviderError is a failed provider call. StatusCode is zero for transport
// failures that never produced an HTTP response.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrEmptyResponse is returned when the provider answered without any text.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config, apiKey)
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider %q", config.Provider)
	}
}
