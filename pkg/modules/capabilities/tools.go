package capabilities

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/dispatch"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

// ToolConfig defines configuration for a single tool
type ToolConfig struct {
	Name        string // Tool name
	Description string // Tool description
	Enabled     bool   // Whether the tool is enabled
}

// CapabilityToolsConfig defines configuration for the management tools
type CapabilityToolsConfig struct {
	ListCapabilities   ToolConfig
	DescribeCapability ToolConfig
	ExposeCapabilities bool
}

// GetDefaultToolsConfig returns default tool configuration
func GetDefaultToolsConfig() CapabilityToolsConfig {
	return CapabilityToolsConfig{
		ListCapabilities: ToolConfig{
			Name:        "list-capabilities",
			Description: "List all generated capabilities with their versions and parameters",
			Enabled:     true,
		},
		DescribeCapability: ToolConfig{
			Name:        "describe-capability",
			Description: "Show the input schema of a generated capability",
			Enabled:     true,
		},
		ExposeCapabilities: true,
	}
}

// BuildToolName builds tool name based on configuration
func (m *Module) BuildToolName(baseName string) string {
	name := baseName
	if m.config.Tools.Prefix != "" {
		name = m.config.Tools.Prefix + name
	}
	if m.config.Tools.Suffix != "" {
		name = name + m.config.Tools.Suffix
	}
	return name
}

// BuildTools builds tool list based on configuration
func (m *Module) BuildTools(toolsConfig CapabilityToolsConfig) []server.ServerTool {
	var tools []server.ServerTool

	if toolsConfig.ListCapabilities.Enabled {
		toolName := m.BuildToolName(toolsConfig.ListCapabilities.Name)
		tools = append(tools, server.ServerTool{
			Tool:    m.buildListCapabilitiesToolDefinition(toolsConfig.ListCapabilities),
			Handler: metrics.WrapToolHandler(m.handleListCapabilities, toolName, moduleName),
		})
	}

	if toolsConfig.DescribeCapability.Enabled {
		toolName := m.BuildToolName(toolsConfig.DescribeCapability.Name)
		tools = append(tools, server.ServerTool{
			Tool:    m.buildDescribeCapabilityToolDefinition(toolsConfig.DescribeCapability),
			Handler: metrics.WrapToolHandler(m.handleDescribeCapability, toolName, moduleName),
		})
	}

	if !toolsConfig.ExposeCapabilities {
		return tools
	}

	// One tool per loaded capability, in name order
	for _, desc := range m.dispatcher.List() {
		tool, err := m.buildCapabilityToolDefinition(desc)
		if err != nil {
			m.logger.Error("Failed to build capability tool", zap.String("capability", desc.Name), zap.Error(err))
			continue
		}
		tools = append(tools, server.ServerTool{
			Tool:    tool,
			Handler: metrics.WrapToolHandler(m.handleCapability(desc.Name), tool.Name, moduleName),
		})
	}

	return tools
}

// Tool definition builder methods
func (m *Module) buildListCapabilitiesToolDefinition(config ToolConfig) mcp.Tool {
	return mcp.NewTool(m.BuildToolName(config.Name),
		mcp.WithDescription(config.Description),
	)
}

func (m *Module) buildDescribeCapabilityToolDefinition(config ToolConfig) mcp.Tool {
	return mcp.NewTool(m.BuildToolName(config.Name),
		mcp.WithDescription(config.Description),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the capability to describe")),
	)
}

func (m *Module) buildCapabilityToolDefinition(desc dispatch.ToolDescriptor) (mcp.Tool, error) {
	schema, err := descriptorSchema(desc)
	if err != nil {
		return mcp.Tool{}, err
	}
	return mcp.NewToolWithRawSchema(m.BuildToolName(desc.Name), desc.Description, schema), nil
}
