// Package llm adapts language model backends to the single operation the
// documentation analyzer needs.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProvider wraps every failure reported by a backend.
	ErrProvider = errors.New("llm provider error")
	// ErrNoProvider is returned when no backend has credentials configured.
	ErrNoProvider = errors.New("no llm provider available")
	// ErrUnknownProvider is returned for a provider name outside the registry.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// Provider turns a system and user prompt into response text.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, system, user string) (string, error)
}

// ModelConfig configures one backend.
type ModelConfig struct {
	Model       string  `mapstructure:"model" json:"model" yaml:"model"`
	Temperature float64 `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"maxTokens" json:"maxTokens" yaml:"maxTokens"`
	APIKey      string  `mapstructure:"apiKey" json:"apiKey" yaml:"apiKey"`
	APIKeyEnv   string  `mapstructure:"apiKeyEnv" json:"apiKeyEnv" yaml:"apiKeyEnv"`
	BaseURL     string  `mapstructure:"baseUrl" json:"baseUrl" yaml:"baseUrl"`
}

// ProviderError records which backend failed.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

// Unwrap exposes ErrProvider and the backend error.
func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}

func providerError(name string, err error) error {
	return &ProviderError{Provider: name, Err: err}
}
