package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	resp    openai.ChatCompletionResponse
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func TestOpenAIClient_Complete(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: `{"score": 80}`}}},
			Usage: openai.Usage{
				PromptTokens:        100,
				CompletionTokens:    20,
				TotalTokens:         120,
				PromptTokensDetails: &openai.PromptTokensDetails{CachedTokens: 64},
			},
		},
	}
	client := &OpenAIClient{client: fake, config: DefaultOpenAIConfig()}

	resp, err := client.Complete(context.Background(), Request{
		Tier:        TierAdvanced,
		System:      "role",
		User:        "content",
		Temperature: 0.2,
		MaxTokens:   500,
		JSON:        true,
		UserTag:     "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, `{"score": 80}`, resp.Text)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, Usage{PromptTokens: 100, CompletionTokens: 20, CachedTokens: 64, TotalTokens: 120}, resp.Usage)

	require.Len(t, fake.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.lastReq.Messages[0].Role)
	assert.Equal(t, "role", fake.lastReq.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, fake.lastReq.Messages[1].Role)
	assert.Equal(t, "user-1", fake.lastReq.User)
	assert.Equal(t, 500, fake.lastReq.MaxTokens)
	require.NotNil(t, fake.lastReq.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, fake.lastReq.ResponseFormat.Type)
}

func TestOpenAIClient_APIError(t *testing.T) {
	fake := &fakeCompleter{err: &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"}}
	client := &OpenAIClient{client: fake, config: DefaultOpenAIConfig()}

	_, err := client.Complete(context.Background(), Request{Tier: TierStandard})
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	assert.Equal(t, ProviderOpenAI, perr.Provider)
}

func TestOpenAIClient_EmptyChoicesKeepsUsage(t *testing.T) {
	fake := &fakeCompleter{resp: openai.ChatCompletionResponse{Usage: openai.Usage{PromptTokens: 7, TotalTokens: 7}}}
	client := &OpenAIClient{client: fake, config: DefaultOpenAIConfig()}

	resp, err := client.Complete(context.Background(), Request{Tier: TierStandard})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	require.NotNil(t, resp)
	assert.Equal(t, 7, resp.Usage.PromptTokens)
}

func TestNewClient_Unsupported(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{Provider: "cohere"}, "key")
	assert.Error(t, err)
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(DefaultOpenAIConfig(), "")
	assert.Error(t, err)
}
