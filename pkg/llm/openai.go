package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

// ChatCompletionProvider talks to any OpenAI-compatible chat completions API.
type ChatCompletionProvider struct {
	name   string
	client *openai.Client
	config ModelConfig
}

func newChatCompletionProvider(name string, cfg ModelConfig) Provider {
	return NewChatCompletionProvider(name, cfg)
}

// NewChatCompletionProvider creates a provider; an empty BaseURL means api.openai.com.
func NewChatCompletionProvider(name string, cfg ModelConfig) *ChatCompletionProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &ChatCompletionProvider{
		name:   name,
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// Name returns the backend name
func (p *ChatCompletionProvider) Name() string {
	return p.name
}

// Analyze sends a system and user message and returns the first choice
func (p *ChatCompletionProvider) Analyze(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: float32(p.config.Temperature),
		MaxTokens:   p.config.MaxTokens,
	})
	metrics.RecordBackendRequest(metrics.BackendLLM, time.Since(start), err == nil)
	if err != nil {
		metrics.RecordBackendError(metrics.BackendLLM, p.name)
		return "", providerError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", providerError(p.name, errors.New("no completion choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}
