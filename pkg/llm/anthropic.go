package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	config ModelConfig
}

func newAnthropicProvider(_ string, cfg ModelConfig) Provider {
	return NewAnthropicProvider(cfg)
}

// NewAnthropicProvider creates a provider from cfg.
func NewAnthropicProvider(cfg ModelConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}
}

// Name returns the backend name
func (p *AnthropicProvider) Name() string {
	return Anthropic
}

// Analyze sends one user message under the system prompt and joins the text blocks
func (p *AnthropicProvider) Analyze(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.config.Model),
		MaxTokens:   int64(p.config.MaxTokens),
		Temperature: anthropic.Float(p.config.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	metrics.RecordBackendRequest(metrics.BackendLLM, time.Since(start), err == nil)
	if err != nil {
		metrics.RecordBackendError(metrics.BackendLLM, Anthropic)
		return "", providerError(Anthropic, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", providerError(Anthropic, errors.New("no text content in response"))
	}
	return b.String(), nil
}
