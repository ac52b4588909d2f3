package docs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/config"
)

func testTools() []server.ServerTool {
	raw := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string","description":"City name"},"units":{"type":"string","enum":["metric","imperial"]}},"required":["city"]}`)
	return []server.ServerTool{
		{Tool: mcp.NewTool("list-capabilities", mcp.WithDescription("List capabilities"))},
		{Tool: mcp.NewToolWithRawSchema("Weather", "Current weather", raw)},
	}
}

func TestCollectToolsInfo(t *testing.T) {
	cfg := config.Default()
	c := NewCollector(&cfg, zap.NewNop())
	c.AddModule("capabilities", testTools)

	info := c.CollectToolsInfo()
	assert.Equal(t, "mcp-tool-forge", info.Service)
	assert.Equal(t, 2, info.TotalTools)
	assert.Equal(t, []string{"capabilities"}, info.Modules)
	assert.Equal(t, "generated_tools", info.ToolsDirectory)

	weather := info.Tools[1]
	assert.Equal(t, "Weather", weather.Name)
	assert.Equal(t, "capabilities", weather.Module)
	assert.Equal(t, map[string]interface{}{
		"type":        "string",
		"description": "City name",
		"required":    true,
	}, weather.Parameters["city"])
	assert.Equal(t, map[string]interface{}{
		"type": "string",
		"enum": []interface{}{"metric", "imperial"},
	}, weather.Parameters["units"])

	assert.Empty(t, info.Tools[0].Parameters)
}

func TestHandleDocs(t *testing.T) {
	c := NewCollector(nil, zap.NewNop())
	c.AddModule("capabilities", testTools)
	h := NewHandler(c, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleDocs(rec, httptest.NewRequest(http.MethodGet, "/mcp/docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info ToolsInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 2, info.TotalTools)

	rec = httptest.NewRecorder()
	h.HandleDocs(rec, httptest.NewRequest(http.MethodPost, "/mcp/docs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
