package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

// WrapToolHandler wraps a tool handler with metrics collection
func WrapToolHandler(handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), toolName, moduleName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		RecordModuleRequest(moduleName)

		result, err := handler(ctx, request)

		duration := time.Since(start)
		success := err == nil && (result == nil || !result.IsError)

		RecordMCPToolCall(toolName, moduleName, duration, success)

		if err != nil {
			RecordMCPToolError(toolName, moduleName, classifyError(err))
		} else if !success {
			RecordMCPToolError(toolName, moduleName, "tool_error")
		}

		return result, err
	}
}

// classifyError maps an error onto a low-cardinality label
func classifyError(err error) string {
	switch {
	case errors.Is(err, capability.ErrUnknownCapability):
		return "not_found"
	case errors.Is(err, capability.ErrInvalidArguments):
		return "invalid_input"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "forbidden"):
		return "auth_error"
	case strings.Contains(errStr, "invalid"):
		return "invalid_input"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network"):
		return "network_error"
	case errors.Is(err, capability.ErrExecution):
		return "execution_error"
	}
	return "unknown"
}

// RecordMCPToolCall records one tool call. module is the serving surface, e.g. "dispatch" or "capabilities"
func RecordMCPToolCall(toolName, module string, duration time.Duration, success bool) {
	m := Get()
	if m == nil {
		return
	}

	status := "failure"
	if success {
		status = "success"
	}

	m.MCPToolCallsTotal.WithLabelValues(toolName, module, status).Inc()
	m.MCPToolCallDuration.WithLabelValues(toolName, module).Observe(duration.Seconds())
}

// RecordMCPToolError records an MCP tool error
func RecordMCPToolError(toolName, module, errorType string) {
	m := Get()
	if m != nil {
		m.MCPToolErrorsTotal.WithLabelValues(toolName, module, errorType).Inc()
	}
}

// RecordModuleRequest counts a request routed through a module
func RecordModuleRequest(moduleName string) {
	m := Get()
	if m != nil {
		m.ModuleRequestsTotal.WithLabelValues(moduleName).Inc()
	}
}

