package config

import (
	"time"

	"github.com/shaowenchen/mcp-tool-forge/pkg/llm"
)

// Config represents the complete server configuration
type Config struct {
	Log     LogConfig     `mapstructure:"log" json:"log" yaml:"log"`
	Server  ServerConfig  `mapstructure:"server" json:"server" yaml:"server"`
	Tools   ToolsConfig   `mapstructure:"tools" json:"tools" yaml:"tools"`
	LLM     LLMConfig     `mapstructure:"llm" json:"llm" yaml:"llm"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Auth    AuthConfig    `mapstructure:"auth" json:"auth" yaml:"auth"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `mapstructure:"level" json:"level" yaml:"level"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Host        string        `mapstructure:"host" json:"host" yaml:"host"`
	Port        int           `mapstructure:"port" json:"port" yaml:"port"`
	Mode        string        `mapstructure:"mode" json:"mode" yaml:"mode"`
	URI         string        `mapstructure:"uri" json:"uri" yaml:"uri"`
	CallTimeout time.Duration `mapstructure:"callTimeout" json:"callTimeout" yaml:"callTimeout"`
}

// ToolsConfig contains the generated tools directory and how tools are exposed
type ToolsConfig struct {
	Directory   string        `mapstructure:"directory" json:"directory" yaml:"directory"`
	Prefix      string        `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	Suffix      string        `mapstructure:"suffix" json:"suffix" yaml:"suffix"`
	MaxSteps    uint64        `mapstructure:"maxSteps" json:"maxSteps" yaml:"maxSteps"`
	HTTPTimeout time.Duration `mapstructure:"httpTimeout" json:"httpTimeout" yaml:"httpTimeout"`
}

// LLMConfig selects the analysis provider and per-provider model settings
type LLMConfig struct {
	Provider string                     `mapstructure:"provider" json:"provider" yaml:"provider"`
	Models   map[string]llm.ModelConfig `mapstructure:"models" json:"models" yaml:"models"`
}

// MetricsConfig contains Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" json:"path" yaml:"path"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" json:"token" yaml:"token"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Mode: "stdio",
			URI:  "/mcp",
		},
		Tools: ToolsConfig{
			Directory:   "generated_tools",
			HTTPTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
