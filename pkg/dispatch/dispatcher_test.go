package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
	"github.com/shaowenchen/mcp-tool-forge/pkg/loader"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCapability struct {
	name   string
	schema *capability.ParameterSchema
	run    func(ctx context.Context, params map[string]any) (any, error)
}

func (f *fakeCapability) Name() string                                  { return f.name }
func (f *fakeCapability) Description() string                           { return f.name + " tool" }
func (f *fakeCapability) ParametersSchema() *capability.ParameterSchema { return f.schema }

func (f *fakeCapability) Run(ctx context.Context, params map[string]any) (any, error) {
	return f.run(ctx, params)
}

func (f *fakeCapability) Validate(params map[string]any) bool {
	for pair := f.schema.Oldest(); pair != nil; pair = pair.Next() {
		if !pair.Value.Required {
			continue
		}
		if _, ok := params[pair.Key]; !ok {
			return false
		}
	}
	return true
}

func echo() *fakeCapability {
	schema := capability.NewParameterSchema()
	schema.Set("msg", capability.ParameterSpec{Type: capability.TypeString, Description: "message", Required: true})
	return &fakeCapability{
		name:   "Echo",
		schema: schema,
		run: func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"echo": params["msg"]}, nil
		},
	}
}

type staticSource struct {
	results []map[string]capability.Capability
	calls   int
}

func (s *staticSource) Discover(context.Context) map[string]capability.Capability {
	r := s.results[s.calls%len(s.results)]
	s.calls++
	return r
}

func newDispatcher(t *testing.T, caps ...capability.Capability) *Dispatcher {
	t.Helper()
	table := make(map[string]capability.Capability)
	for _, c := range caps {
		table[c.Name()] = c
	}
	d := New(&staticSource{results: []map[string]capability.Capability{table}}, zap.NewNop())
	require.Equal(t, len(caps), d.Refresh(context.Background(), true))
	return d
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func handle(t *testing.T, d *Dispatcher, line string) rpcResponse {
	t.Helper()
	out := d.Handle(context.Background(), []byte(line))
	require.NotNil(t, out)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func callText(t *testing.T, resp rpcResponse) string {
	t.Helper()
	require.Nil(t, resp.Error)
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	return result.Content[0].Text
}

func TestEchoCall(t *testing.T) {
	d := newDispatcher(t, echo())

	resp := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Echo","arguments":{"msg":"hi"}}}`)
	assert.JSONEq(t, "1", string(resp.ID))
	assert.JSONEq(t, `{"echo":"hi"}`, callText(t, resp))

	resp = handle(t, d, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"Echo","arguments":{}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32603, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Echo")
	assert.JSONEq(t, "2", string(resp.ID))
}

func TestCallErrors(t *testing.T) {
	failing := &fakeCapability{
		name:   "Broken",
		schema: capability.NewParameterSchema(),
		run: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("backend down")
		},
	}
	d := newDispatcher(t, echo(), failing)

	_, err := d.Call(context.Background(), "Nope", nil)
	assert.True(t, errors.Is(err, capability.ErrUnknownCapability))
	var callErr *capability.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "Nope", callErr.Name)

	_, err = d.Call(context.Background(), "Echo", map[string]any{})
	assert.True(t, errors.Is(err, capability.ErrInvalidArguments))

	_, err = d.Call(context.Background(), "Broken", nil)
	assert.True(t, errors.Is(err, capability.ErrExecution))
	assert.Contains(t, err.Error(), "backend down")

	resp := handle(t, d, `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"Nope"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32603, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Nope")
	assert.JSONEq(t, `"a"`, string(resp.ID))
}

func TestCallTimeout(t *testing.T) {
	slow := &fakeCapability{
		name:   "Slow",
		schema: capability.NewParameterSchema(),
		run: func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "late", nil
			}
		},
	}
	d := New(&staticSource{results: []map[string]capability.Capability{{"Slow": slow}}}, zap.NewNop(),
		WithCallTimeout(20*time.Millisecond))
	d.Refresh(context.Background(), true)

	_, err := d.Call(context.Background(), "Slow", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, capability.ErrExecution))
}

func TestServeMalformedLineThenValid(t *testing.T) {
	d := newDispatcher(t, echo())

	in := strings.NewReader("{not json\n\n" +
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"Echo","arguments":{"msg":"x"}}}` + "\n")
	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first rpcResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NotNil(t, first.Error)
	assert.Equal(t, -32700, first.Error.Code)
	assert.Equal(t, "null", string(first.ID))

	var second rpcResponse
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.JSONEq(t, "7", string(second.ID))
	assert.JSONEq(t, `{"echo":"x"}`, callText(t, second))
}

const pagerModule = `
def _run(params):
    return {"pages": [i + 1 for i in range(params["limit"])]}

def _validate(params):
    return type(params.get("limit")) == "int"

def Pager():
    return struct(
        name = "Pager",
        description = "Page through results",
        parameters_schema = {"limit": {"type": "integer", "required": True}},
        run = _run,
        validate = _validate,
    )
`

func TestCallPassesIntegerArguments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pager"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pager", "tool.star"), []byte(pagerModule), 0o644))

	d := New(loader.New(registry.New(dir), zap.NewNop()), zap.NewNop())
	require.Equal(t, 1, d.Refresh(context.Background(), true))

	resp := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Pager","arguments":{"limit":2}}}`)
	assert.JSONEq(t, `{"pages":[1,2]}`, callText(t, resp))

	// mcp-go decodes arguments into float64
	result, err := d.Call(context.Background(), "Pager", map[string]any{"limit": float64(3)})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"pages":[1,2,3]}`, text.Text)
}

func TestServeKeepsNumbersExact(t *testing.T) {
	var got any
	c := &fakeCapability{
		name:   "Count",
		schema: capability.NewParameterSchema(),
		run: func(_ context.Context, params map[string]any) (any, error) {
			got = params["n"]
			return "ok", nil
		},
	}
	d := newDispatcher(t, c)

	resp := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Count","arguments":{"n":9007199254740993}}}`)
	assert.Equal(t, "ok", callText(t, resp))
	assert.Equal(t, json.Number("9007199254740993"), got)
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	d := newDispatcher(t, echo())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := d.Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, out.String())
}

func TestProtocolMethods(t *testing.T) {
	d := New(&staticSource{results: []map[string]capability.Capability{{}}}, zap.NewNop(),
		WithServerInfo("forge", "1.2.3"))

	resp := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Nil(t, resp.Error)
	var init struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	assert.Equal(t, "forge", init.ServerInfo.Name)
	assert.Equal(t, "1.2.3", init.ServerInfo.Version)

	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))

	resp = handle(t, d, `{"jsonrpc":"2.0","id":3,"method":"resources/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)

	resp = handle(t, d, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":"oops"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestListNormalizesSchemas(t *testing.T) {
	schema := capability.NewParameterSchema()
	schema.Set("query", capability.ParameterSpec{Type: capability.TypeString, Enum: []any{"a", "b"}, Required: true})
	schema.Set("items", capability.ParameterSpec{Type: capability.TypeArray, Required: true})
	schema.Set("filters", capability.ParameterSpec{Type: capability.TypeObject, Required: false, Default: map[string]any{}})
	search := &fakeCapability{name: "Search", schema: schema}

	d := newDispatcher(t, search, echo())

	resp := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Nil(t, resp.Error)
	var list struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema struct {
				Type       string                    `json:"type"`
				Properties map[string]map[string]any `json:"properties"`
				Required   []string                  `json:"required"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	require.Len(t, list.Tools, 2)
	assert.Equal(t, "Echo", list.Tools[0].Name)
	assert.Equal(t, "Search", list.Tools[1].Name)

	in := list.Tools[1].InputSchema
	assert.Equal(t, "object", in.Type)
	assert.Equal(t, []string{"query", "items", "filters"}, in.Required)
	assert.Equal(t, []any{"a", "b"}, in.Properties["query"]["enum"])
	assert.Equal(t, "", in.Properties["query"]["description"])
	assert.Equal(t, map[string]any{"type": "object"}, in.Properties["items"]["items"])
	assert.Equal(t, map[string]any{}, in.Properties["filters"]["properties"])
	assert.Equal(t, "Search tool", list.Tools[1].Description)
}

func TestRefreshMergesOrReplaces(t *testing.T) {
	first := echo()
	replacement := echo()
	extra := &fakeCapability{name: "Extra", schema: capability.NewParameterSchema()}

	source := &staticSource{results: []map[string]capability.Capability{
		{"Echo": first},
		{"Echo": replacement, "Extra": extra},
	}}
	d := New(source, zap.NewNop())

	assert.Equal(t, 1, d.Refresh(context.Background(), false))
	assert.Equal(t, 2, d.Refresh(context.Background(), false))
	got, ok := d.Get("Echo")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, []string{"Echo", "Extra"}, d.Names())

	source.calls = 1
	assert.Equal(t, 2, d.Refresh(context.Background(), true))
	got, _ = d.Get("Echo")
	assert.Same(t, replacement, got)

	d.Set(map[string]capability.Capability{})
	assert.Empty(t, d.List())
}

func TestRenderResult(t *testing.T) {
	text, err := RenderResult("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", text)

	text, err = RenderResult(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", text)

	text, err = RenderResult(int64(42))
	require.NoError(t, err)
	assert.Equal(t, "42", text)

	text, err = RenderResult([]any{map[string]any{"a": int64(1)}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":1}]`, text)
}

func TestServeRecordsToolCallOnce(t *testing.T) {
	m := metrics.Init(zap.NewNop())
	c := echo()
	c.name = "Metered"
	d := newDispatcher(t, c)
	calls := m.MCPToolCallsTotal.WithLabelValues("Metered", metricsModule, "success")
	before := testutil.ToFloat64(calls)

	_, err := d.Call(context.Background(), "Metered", map[string]any{"msg": "direct"})
	require.NoError(t, err)
	assert.Equal(t, before, testutil.ToFloat64(calls))

	resp := handle(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Metered","arguments":{"msg":"x"}}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, before+1, testutil.ToFloat64(calls))
}
