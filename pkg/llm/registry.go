package llm

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Backend names.
const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Google     = "google"
	Perplexity = "perplexity"
	Mistral    = "mistral"
)

// Priority is the order in which backends are tried when none is configured explicitly.
var Priority = []string{OpenAI, Anthropic, Google, Perplexity, Mistral}

type backend struct {
	keyEnv   string
	defaults ModelConfig
	build    func(name string, cfg ModelConfig) Provider
}

var backends = map[string]backend{
	OpenAI: {
		keyEnv:   "OPENAI_API_KEY",
		defaults: ModelConfig{Model: "gpt-4o-mini", Temperature: 0.1, MaxTokens: 4000},
		build:    newChatCompletionProvider,
	},
	Anthropic: {
		keyEnv:   "ANTHROPIC_API_KEY",
		defaults: ModelConfig{Model: "claude-3-5-sonnet-latest", Temperature: 0.1, MaxTokens: 4000},
		build:    newAnthropicProvider,
	},
	Google: {
		keyEnv:   "GOOGLE_API_KEY",
		defaults: ModelConfig{Model: "gemini-1.5-pro", Temperature: 0.1, MaxTokens: 4000},
		build:    newGeminiProvider,
	},
	Perplexity: {
		keyEnv:   "PERPLEXITY_API_KEY",
		defaults: ModelConfig{Model: "sonar", Temperature: 0.1, MaxTokens: 4000, BaseURL: "https://api.perplexity.ai"},
		build:    newChatCompletionProvider,
	},
	Mistral: {
		keyEnv:   "MISTRAL_API_KEY",
		defaults: ModelConfig{Model: "mistral-large-latest", Temperature: 0.1, MaxTokens: 4000, BaseURL: "https://api.mistral.ai/v1"},
		build:    newChatCompletionProvider,
	},
}

// Registry holds the backends usable by this process. It is built once at startup and
// passed to whatever needs a provider.
type Registry struct {
	providers map[string]Provider
	order     []string
	preferred string
	logger    *zap.Logger
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	lookupEnv func(string) (string, bool)
	preferred string
	models    map[string]ModelConfig
	providers map[string]Provider
}

// WithLookupEnv replaces os.LookupEnv for key discovery.
func WithLookupEnv(lookup func(string) (string, bool)) RegistryOption {
	return func(c *registryConfig) {
		c.lookupEnv = lookup
	}
}

// WithPreferred selects a backend by name instead of the priority order.
func WithPreferred(name string) RegistryOption {
	return func(c *registryConfig) {
		c.preferred = strings.ToLower(strings.TrimSpace(name))
	}
}

// WithModels overrides per-backend model settings.
func WithModels(models map[string]ModelConfig) RegistryOption {
	return func(c *registryConfig) {
		for name, cfg := range models {
			c.models[strings.ToLower(name)] = cfg
		}
	}
}

// WithProvider registers a ready-made provider, bypassing credential discovery.
func WithProvider(p Provider) RegistryOption {
	return func(c *registryConfig) {
		c.providers[p.Name()] = p
	}
}

// NewRegistry builds a provider for every backend whose API key is configured.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := registryConfig{
		lookupEnv: os.LookupEnv,
		models:    make(map[string]ModelConfig),
		providers: make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.preferred != "" {
		if _, known := backends[cfg.preferred]; !known {
			if _, custom := cfg.providers[cfg.preferred]; !custom {
				return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.preferred)
			}
		}
	}

	r := &Registry{
		providers: make(map[string]Provider),
		preferred: cfg.preferred,
		logger:    logger.Named("llm"),
	}
	for _, name := range Priority {
		if p, ok := cfg.providers[name]; ok {
			r.add(name, p)
			continue
		}
		b := backends[name]
		model := mergeModel(b.defaults, cfg.models[name])
		if model.APIKey == "" {
			env := b.keyEnv
			if model.APIKeyEnv != "" {
				env = model.APIKeyEnv
			}
			if key, ok := cfg.lookupEnv(env); ok && key != "" {
				model.APIKey = key
			}
		}
		if model.APIKey == "" {
			r.logger.Debug("llm provider not configured", zap.String("provider", name))
			continue
		}
		r.add(name, b.build(name, model))
	}
	for name, p := range cfg.providers {
		if _, ok := r.providers[name]; !ok {
			r.add(name, p)
		}
	}
	return r, nil
}

func (r *Registry) add(name string, p Provider) {
	r.providers[name] = p
	r.order = append(r.order, name)
	r.logger.Info("llm provider available", zap.String("provider", name))
}

func mergeModel(base, override ModelConfig) ModelConfig {
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Temperature != 0 {
		base.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.APIKeyEnv != "" {
		base.APIKeyEnv = override.APIKeyEnv
	}
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	return base
}

// Available lists configured backends in priority order.
func (r *Registry) Available() []string {
	return append([]string(nil), r.order...)
}

// Get returns a configured backend by name.
func (r *Registry) Get(name string) (Provider, error) {
	name = strings.ToLower(name)
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if _, known := backends[name]; !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return nil, fmt.Errorf("%w: %s has no API key (set %s)", ErrNoProvider, name, backends[name].keyEnv)
}

// Default returns the preferred backend, or the first configured one in priority order.
func (r *Registry) Default() (Provider, error) {
	if r.preferred != "" {
		return r.Get(r.preferred)
	}
	if len(r.order) == 0 {
		envs := make([]string, 0, len(Priority))
		for _, name := range Priority {
			envs = append(envs, backends[name].keyEnv)
		}
		return nil, fmt.Errorf("%w: set one of %s", ErrNoProvider, strings.Join(envs, ", "))
	}
	return r.providers[r.order[0]], nil
}
