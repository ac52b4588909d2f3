package docs

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/cmd/version"
	"github.com/shaowenchen/mcp-tool-forge/pkg/config"
)

// ToolSource returns the tools a module currently serves
type ToolSource func() []server.ServerTool

// Collector collects tool information from all registered modules
type Collector struct {
	config  *config.Config
	modules map[string]ToolSource
	order   []string
	logger  *zap.Logger
}

// NewCollector creates a new docs collector
func NewCollector(cfg *config.Config, logger *zap.Logger) *Collector {
	return &Collector{
		config:  cfg,
		modules: make(map[string]ToolSource),
		logger:  logger,
	}
}

// AddModule registers a module whose tools are listed under name
func (c *Collector) AddModule(name string, source ToolSource) {
	if _, exists := c.modules[name]; !exists {
		c.order = append(c.order, name)
	}
	c.modules[name] = source
}

// CollectToolsInfo collects tool information from all registered modules
func (c *Collector) CollectToolsInfo() ToolsInfoResponse {
	tools := []ToolInfo{}
	var enabledModules []string

	versionInfo := version.Get()

	for _, name := range c.order {
		enabledModules = append(enabledModules, name)
		for _, serverTool := range c.modules[name]() {
			tools = append(tools, ToolInfo{
				Name:        serverTool.Tool.Name,
				Description: serverTool.Tool.Description,
				Parameters:  convertToolParameters(toolSchema(serverTool.Tool)),
				Module:      name,
			})
		}
	}

	response := ToolsInfoResponse{
		Service:    "mcp-tool-forge",
		Version:    versionInfo.Version,
		TotalTools: len(tools),
		Modules:    enabledModules,
		Tools:      tools,
	}
	if c.config != nil {
		response.ToolsDirectory = c.config.Tools.Directory
	}
	return response
}

// toolSchema prefers the raw schema used by generated capabilities
func toolSchema(tool mcp.Tool) interface{} {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema
	}
	return tool.InputSchema
}

// convertToolParameters converts MCP tool input schema to a more readable format
func convertToolParameters(inputSchema interface{}) map[string]interface{} {
	params := make(map[string]interface{})

	// Convert the inputSchema to JSON first, then parse it as a map
	schemaBytes, err := json.Marshal(inputSchema)
	if err != nil {
		return params
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return params
	}

	required := make(map[string]bool)
	if requiredList, ok := schemaMap["required"].([]interface{}); ok {
		for _, req := range requiredList {
			if reqStr, ok := req.(string); ok {
				required[reqStr] = true
			}
		}
	}

	propsMap, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return params
	}
	for paramName, paramDef := range propsMap {
		paramDefMap, ok := paramDef.(map[string]interface{})
		if !ok {
			continue
		}
		paramInfo := map[string]interface{}{
			"type": paramDefMap["type"],
		}
		if description, exists := paramDefMap["description"]; exists {
			paramInfo["description"] = description
		}
		if enum, exists := paramDefMap["enum"]; exists {
			paramInfo["enum"] = enum
		}
		if required[paramName] {
			paramInfo["required"] = true
		}
		params[paramName] = paramInfo
	}

	return params
}
