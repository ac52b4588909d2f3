package capabilities

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/shaowenchen/mcp-tool-forge/pkg/dispatch"
)

// Config contains capabilities module configuration
type Config struct {
	Tools ToolsConfig `mapstructure:"tools" json:"tools" yaml:"tools"`
}

// ToolsConfig contains tools configuration
type ToolsConfig struct {
	Prefix string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	Suffix string `mapstructure:"suffix" json:"suffix" yaml:"suffix"`
}

// Dispatcher is the part of *dispatch.Dispatcher the module serves from
type Dispatcher interface {
	List() []dispatch.ToolDescriptor
	Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// CapabilitySummary is one entry of the list-capabilities result
type CapabilitySummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version,omitempty"`
	APIType     string   `json:"api_type,omitempty"`
	Parameters  []string `json:"parameters"`
}
