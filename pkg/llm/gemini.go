package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

// GeminiProvider calls Google Gemini through AI Studio.
type GeminiProvider struct {
	config ModelConfig
}

func newGeminiProvider(_ string, cfg ModelConfig) Provider {
	return NewGeminiProvider(cfg)
}

// NewGeminiProvider creates a provider from cfg. The client is opened per call.
func NewGeminiProvider(cfg ModelConfig) *GeminiProvider {
	return &GeminiProvider{config: cfg}
}

// Name returns the backend name
func (p *GeminiProvider) Name() string {
	return Google
}

// Analyze generates content with the system prompt as system instruction
func (p *GeminiProvider) Analyze(ctx context.Context, system, user string) (string, error) {
	opts := []option.ClientOption{option.WithAPIKey(p.config.APIKey)}
	if p.config.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(p.config.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", providerError(Google, fmt.Errorf("failed to create client: %w", err))
	}
	defer client.Close()

	model := client.GenerativeModel(p.config.Model)
	model.SetTemperature(float32(p.config.Temperature))
	model.SetMaxOutputTokens(int32(p.config.MaxTokens))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(user))
	metrics.RecordBackendRequest(metrics.BackendLLM, time.Since(start), err == nil)
	if err != nil {
		metrics.RecordBackendError(metrics.BackendLLM, Google)
		return "", providerError(Google, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil {
			return "", providerError(Google, fmt.Errorf("request blocked: %v", resp.PromptFeedback.BlockReason))
		}
		return "", providerError(Google, errors.New("no candidates in response"))
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", providerError(Google, errors.New("no text content in response"))
	}
	return b.String(), nil
}
