package capabilities

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/dispatch"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
)

const moduleName = "capabilities"

// Module exposes loaded capabilities as MCP server tools
type Module struct {
	config     *Config
	logger     *zap.Logger
	dispatcher Dispatcher
	registry   *registry.Registry
}

// New creates a new capabilities module instance. reg may be nil, in which case
// list-capabilities reports no versions.
func New(config *Config, dispatcher Dispatcher, reg *registry.Registry, logger *zap.Logger) (*Module, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Module{
		config:     config,
		logger:     logger.Named(moduleName),
		dispatcher: dispatcher,
		registry:   reg,
	}, nil
}

// GetTools returns the management tools followed by one tool per loaded capability
func (m *Module) GetTools() []server.ServerTool {
	return m.BuildTools(GetDefaultToolsConfig())
}

// handleCapability returns the handler forwarding calls to the named capability
func (m *Module) handleCapability(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := arguments(request)
		if err != nil {
			return nil, err
		}
		return m.dispatcher.Call(ctx, name, args)
	}
}

// handleListCapabilities lists loaded capabilities with their registered versions
func (m *Module) handleListCapabilities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := m.summaries()

	data, err := json.MarshalIndent(map[string]interface{}{
		"capabilities": summaries,
		"count":        len(summaries),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capability list: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(data)),
		},
	}, nil
}

// handleDescribeCapability returns the input schema of one capability
func (m *Module) handleDescribeCapability(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("name is required")
	}

	for _, desc := range m.dispatcher.List() {
		if desc.Name != name {
			continue
		}
		data, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal capability: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(string(data)),
			},
		}, nil
	}

	available := make([]string, 0)
	for _, desc := range m.dispatcher.List() {
		available = append(available, desc.Name)
	}
	return nil, fmt.Errorf("capability '%s' not found. Available capabilities: %v", name, available)
}

func (m *Module) summaries() []CapabilitySummary {
	var entries map[string]registry.Entry
	if m.registry != nil {
		loaded, err := m.registry.Load()
		if err != nil {
			m.logger.Debug("registry unavailable for capability list", zap.Error(err))
		}
		entries = loaded
	}

	descriptors := m.dispatcher.List()
	summaries := make([]CapabilitySummary, 0, len(descriptors))
	for _, desc := range descriptors {
		summary := CapabilitySummary{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.InputSchema.Required,
		}
		if entry, ok := entries[desc.Name]; ok {
			summary.Version = entry.Metadata.Version
			summary.APIType = entry.Metadata.APIInfo.APIType
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid arguments format")
	}
	return args, nil
}

// descriptorSchema encodes a descriptor's input schema for a raw-schema MCP tool
func descriptorSchema(desc dispatch.ToolDescriptor) (json.RawMessage, error) {
	data, err := json.Marshal(desc.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input schema for %s: %w", desc.Name, err)
	}
	return data, nil
}
