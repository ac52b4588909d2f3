package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestRegistryPriorityOrder(t *testing.T) {
	reg, err := NewRegistry(zap.NewNop(), WithLookupEnv(envOf(map[string]string{
		"MISTRAL_API_KEY":   "m",
		"ANTHROPIC_API_KEY": "a",
	})))
	require.NoError(t, err)

	assert.Equal(t, []string{Anthropic, Mistral}, reg.Available())
	p, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, Anthropic, p.Name())

	_, err = reg.Get(Google)
	assert.True(t, errors.Is(err, ErrNoProvider))
	_, err = reg.Get("cohere")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestRegistryPreferred(t *testing.T) {
	env := WithLookupEnv(envOf(map[string]string{"OPENAI_API_KEY": "o", "MISTRAL_API_KEY": "m"}))

	reg, err := NewRegistry(zap.NewNop(), env, WithPreferred("Mistral"))
	require.NoError(t, err)
	p, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, Mistral, p.Name())

	_, err = NewRegistry(zap.NewNop(), env, WithPreferred("cohere"))
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestRegistryNoKeys(t *testing.T) {
	reg, err := NewRegistry(zap.NewNop(), WithLookupEnv(envOf(nil)))
	require.NoError(t, err)

	_, err = reg.Default()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoProvider))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestRegistryModelOverrides(t *testing.T) {
	reg, err := NewRegistry(zap.NewNop(),
		WithLookupEnv(envOf(map[string]string{"CUSTOM_KEY": "g"})),
		WithModels(map[string]ModelConfig{
			"OpenAI": {APIKey: "inline"},
			"google": {APIKeyEnv: "CUSTOM_KEY", Model: "gemini-2.0-flash"},
		}))
	require.NoError(t, err)

	assert.Equal(t, []string{OpenAI, Google}, reg.Available())
	p, err := reg.Get(Google)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", p.(*GeminiProvider).config.Model)
}

type staticProvider struct{ text string }

func (s staticProvider) Name() string { return "static" }

func (s staticProvider) Analyze(context.Context, string, string) (string, error) {
	return s.text, nil
}

func TestRegistryCustomProvider(t *testing.T) {
	reg, err := NewRegistry(zap.NewNop(), WithLookupEnv(envOf(nil)), WithProvider(staticProvider{text: "{}"}), WithPreferred("static"))
	require.NoError(t, err)

	p, err := reg.Default()
	require.NoError(t, err)
	out, err := p.Analyze(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestChatCompletionProvider(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"api_name\":\"X\"}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := NewChatCompletionProvider(Mistral, ModelConfig{Model: "m-large", APIKey: "key", BaseURL: srv.URL, MaxTokens: 100})
	out, err := p.Analyze(context.Background(), "system text", "user text")
	require.NoError(t, err)

	assert.Equal(t, `{"api_name":"X"}`, out)
	assert.Equal(t, "m-large", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "system text", got.Messages[0].Content)
	assert.Equal(t, "user text", got.Messages[1].Content)
}

func TestChatCompletionProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := NewChatCompletionProvider(OpenAI, ModelConfig{Model: "gpt", APIKey: "nope", BaseURL: srv.URL})
	_, err := p.Analyze(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, OpenAI, perr.Provider)
}

func TestAnthropicProvider(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[{"type":"text","text":"{\"ok\":true}"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ModelConfig{Model: "claude", APIKey: "key", BaseURL: srv.URL, MaxTokens: 256, Temperature: 0.2})
	out, err := p.Analyze(context.Background(), "be precise", "describe")
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "claude", got["model"])
	assert.EqualValues(t, 256, got["max_tokens"])
	system, ok := got["system"].([]any)
	require.True(t, ok)
	assert.Equal(t, "be precise", system[0].(map[string]any)["text"])
}
