package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
	"github.com/shaowenchen/mcp-tool-forge/pkg/synth"
)

const echoModule = `
def _echo_run(params):
    return {"echo": params["msg"]}

def _echo_validate(params):
    return type(params.get("msg")) == "string" and len(params["msg"]) > 0

def Echo():
    return struct(
        name = "Echo",
        description = "Echo a message",
        parameters_schema = {"msg": {"type": "string", "required": True}},
        run = _echo_run,
        validate = _echo_validate,
    )
`

const mixedModule = `
def helper():
    return 1

def Broken():
    fail("constructor exploded")

def Incomplete():
    return struct(name = "Incomplete", description = "no run")
` + echoModule

const twoCapabilities = `
def _run(params):
    return params

def _validate(params):
    return True

def Alpha():
    return struct(name = "Alpha", description = "a", parameters_schema = {}, run = _run, validate = _validate)

def Beta():
    return struct(name = "Beta", description = "b", parameters_schema = {}, run = _run, validate = _validate)
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// install synthesizes a capability and records it the way the forge pipeline does.
func install(t *testing.T, reg *registry.Registry, name string, params *capability.ParameterSchema, record *capability.AnalysisRecord) {
	t.Helper()
	s := synth.New()
	src, err := s.Synthesize(name, "test capability", params, map[string]any{}, record)
	require.NoError(t, err)
	wrapper, err := s.SynthesizeAccessor(name)
	require.NoError(t, err)

	dir := capability.DirectoryName(name)
	writeFile(t, filepath.Join(reg.Dir(), dir, synth.ToolFile), src)
	writeFile(t, filepath.Join(reg.Dir(), dir, synth.WrapperFile), wrapper)
	require.NoError(t, reg.Record(name, dir, capability.Metadata{Name: name}))
}

func TestDiscoverSkipsIncompatibleConstructors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mixed", synth.ToolFile), mixedModule)

	caps := New(registry.New(dir), zap.NewNop()).Discover(context.Background())

	require.Len(t, caps, 1)
	echo, ok := caps["Echo"]
	require.True(t, ok)
	assert.Equal(t, "Echo a message", echo.Description())
	assert.Equal(t, []string{"msg"}, capability.ParameterNames(echo.ParametersSchema()))
	spec, _ := echo.ParametersSchema().Get("msg")
	assert.True(t, spec.Required)
}

func TestDiscoverMissingDirectoryLogsFailure(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)
	require.NoError(t, reg.Record("Ghost", "ghost", capability.Metadata{Name: "Ghost"}))
	writeFile(t, filepath.Join(dir, "echo", synth.ToolFile), echoModule)
	require.NoError(t, reg.Record("Echo", "echo", capability.Metadata{Name: "Echo"}))

	logger, logs := observedLogger()
	caps := New(reg, logger).Discover(context.Background())

	assert.Len(t, caps, 1)
	assert.Contains(t, caps, "Echo")
	failures := logs.FilterMessage("capability discovery failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "Ghost", failures[0].ContextMap()["name"])
}

func TestDiscoverScansWhenRegistryCorrupt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, registry.FileName), "{broken")
	writeFile(t, filepath.Join(dir, "echo", synth.ToolFile), echoModule)
	writeFile(t, filepath.Join(dir, "nested", "deep", "multi_tool.star"), twoCapabilities)
	writeFile(t, filepath.Join(dir, "echo", "notes.star"), "x = 1\n")

	logger, logs := observedLogger()
	caps := New(registry.New(dir), logger).Discover(context.Background())

	assert.Len(t, caps, 2)
	assert.Contains(t, caps, "Echo")
	assert.Contains(t, caps, "Alpha")
	assert.Equal(t, 1, logs.FilterMessage("module defines several capabilities, using the first").Len())
}

func TestDiscoverPrefersRegistryName(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)
	writeFile(t, filepath.Join(dir, "beta", synth.ToolFile), twoCapabilities)
	require.NoError(t, reg.Record("Beta", "beta", capability.Metadata{Name: "Beta"}))

	caps := New(reg, zap.NewNop()).Discover(context.Background())

	require.Len(t, caps, 1)
	assert.Contains(t, caps, "Beta")
}

func TestDiscoverReturnsIndependentInstances(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "echo", synth.ToolFile), echoModule)
	l := New(registry.New(dir), zap.NewNop())

	first := l.Discover(context.Background())
	second := l.Discover(context.Background())

	require.Contains(t, first, "Echo")
	require.Contains(t, second, "Echo")
	assert.NotSame(t, first["Echo"], second["Echo"])
}

func TestLoadRejectsEscapingLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "secret.star"), "def Echo():\n    return None\n")
	writeFile(t, filepath.Join(dir, "evil", synth.ToolFile), `load("../secret.star", "Echo")`+"\n")

	logger, logs := observedLogger()
	caps := New(registry.New(dir), logger).Discover(context.Background())

	assert.Empty(t, caps)
	assert.Equal(t, 1, logs.FilterMessage("capability discovery failed").Len())
}

func TestEchoRunAndValidate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "echo", synth.ToolFile), echoModule)
	caps := New(registry.New(dir), zap.NewNop()).Discover(context.Background())
	echo := caps["Echo"]
	require.NotNil(t, echo)

	assert.True(t, echo.Validate(map[string]any{"msg": "hi"}))
	assert.False(t, echo.Validate(map[string]any{"msg": ""}))
	assert.False(t, echo.Validate(map[string]any{}))

	out, err := echo.Run(context.Background(), map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "hi"}, out)

	_, err = echo.Run(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, capability.ErrExecution))
}

const typesModule = `
def _run(params):
    return {k: type(v) for k, v in params.items()}

def Types():
    return struct(
        name = "Types",
        description = "Report argument types",
        parameters_schema = {
            "limit": {"type": "integer", "required": True},
            "ratio": {"type": "number", "required": False},
        },
        run = _run,
        validate = lambda params: True,
    )
`

func TestRunCoercesIntegralFloats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "types", synth.ToolFile), typesModule)
	types := New(registry.New(dir), zap.NewNop()).Discover(context.Background())["Types"]
	require.NotNil(t, types)

	out, err := types.Run(context.Background(), map[string]any{
		"limit": float64(2),
		"ratio": float64(1),
		"extra": float64(4),
		"half":  0.5,
		"count": json.Number("7"),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"limit": "int",
		"ratio": "float",
		"extra": "int",
		"half":  "float",
		"count": "int",
	}, out)
}

func TestSynthesizedRESTSendsIntegerQuery(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	var record capability.AnalysisRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"api_name": "Flights",
		"endpoints": [{"path": "/search", "method": "GET"}],
		"parameters": {"adults": {"type": "integer", "description": "passengers"}}
	}`), &record))
	record.BaseURL = srv.URL

	dir := t.TempDir()
	reg := registry.New(dir)
	install(t, reg, "Flights", record.Parameters, &record)

	flights := New(reg, zap.NewNop(), WithHTTPClient(srv.Client())).Discover(context.Background())["Flights"]
	require.NotNil(t, flights)

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"adults": 2}`), &args))
	_, err := flights.Run(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "adults=2", query)
}

func TestSynthesizedValidateNestedArray(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)
	params := capability.NewParameterSchema()
	require.NoError(t, json.Unmarshal([]byte(`{
		"items": {"type": "array", "description": "rows", "class_structure": {"a": "integer", "b": "integer"}}
	}`), params))
	install(t, reg, "Rows", params, nil)

	caps := New(reg, zap.NewNop()).Discover(context.Background())
	rows := caps["Rows"]
	require.NotNil(t, rows)

	assert.True(t, rows.Validate(map[string]any{"items": []any{map[string]any{"a": 1, "b": 2}}}))
	assert.False(t, rows.Validate(map[string]any{"items": []any{map[string]any{"a": 1}}}))
	assert.False(t, rows.Validate(map[string]any{"items": []any{}}))
	assert.False(t, rows.Validate(map[string]any{}))
}

func TestSynthesizedRESTCapability(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/weather" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"city": %q, "units": %q, "temp": 21}`, r.URL.Query().Get("city"), r.URL.Query().Get("units"))
	}))
	defer srv.Close()

	var record capability.AnalysisRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"api_name": "Weather",
		"endpoints": [{"path": "/v1/weather", "method": "GET"}],
		"parameters": {
			"city": {"type": "string", "description": "city"},
			"units": {"type": "string", "required": false, "default": "metric"},
			"api_key": {"type": "string", "required": false}
		},
		"authentication": {"type": "api_key", "location": "header", "parameter_name": "X-API-Key"}
	}`), &record))
	record.BaseURL = srv.URL

	dir := t.TempDir()
	reg := registry.New(dir)
	install(t, reg, "Weather", record.Parameters, &record)

	l := New(reg, zap.NewNop(), WithHTTPClient(srv.Client()))
	weather := l.Discover(context.Background())["Weather"]
	require.NotNil(t, weather)

	out, err := weather.Run(context.Background(), map[string]any{"city": "Taipei", "api_key": "secret"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Taipei", "units": "metric", "temp": int64(21)}, out)
	assert.Equal(t, "secret", gotKey)

	out, err = l.Invoke(context.Background(), "weather", "Weather", map[string]any{"city": "Oslo", "units": "imperial"})
	require.NoError(t, err)
	assert.Equal(t, "Oslo", out.(map[string]any)["city"])
	assert.Equal(t, "imperial", out.(map[string]any)["units"])

	_, err = l.Invoke(context.Background(), "weather", "Weather", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameters for Weather")
}

func TestHTTPBuiltinFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "down", synth.ToolFile), fmt.Sprintf(`
def _run(params):
    return http.get(%q, params = {"q": params.get("q")})

def Down():
    return struct(name = "Down", description = "", parameters_schema = {}, run = _run, validate = lambda p: True)
`, srv.URL+"/search"))

	down := New(registry.New(dir), zap.NewNop()).Discover(context.Background())["Down"]
	require.NotNil(t, down)

	_, err := down.Run(context.Background(), map[string]any{"q": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, capability.ErrExecution))
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestSynthesizedPackageCapability(t *testing.T) {
	var record capability.AnalysisRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"api_name": "fast_flights",
		"api_type": "python_package",
		"package_name": "fast_flights",
		"main_function": {"name": "get_flights"},
		"parameters": {
			"flight_data": {
				"type": "array",
				"item_class": "FlightData",
				"class_structure": {"date": "string", "from_airport": "string", "to_airport": "string"}
			},
			"passengers": {
				"type": "object",
				"required": false,
				"class_name": "Passengers",
				"class_structure": {"adults": "integer"}
			}
		},
		"response_format": {
			"type": "object",
			"structure": {
				"current_price": {"type": "string"},
				"flights": {"type": "list", "item_structure": {"name": "string", "price": "string"}}
			}
		}
	}`), &record))

	getFlights := starlark.NewBuiltin("get_flights", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var legs *starlark.List
		var passengers starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "flight_data", &legs, "passengers?", &passengers); err != nil {
			return nil, err
		}
		leg := legs.Index(0).(*starlarkstruct.Struct)
		from, _ := leg.Attr("from_airport")
		to, _ := leg.Attr("to_airport")
		flight := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"name":  starlark.String(fmt.Sprintf("%s-%s", from.(starlark.String), to.(starlark.String))),
			"price": starlark.String("100"),
		})
		return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"current_price": starlark.String("low"),
			"flights":       starlark.NewList([]starlark.Value{flight}),
		}), nil
	})

	dir := t.TempDir()
	reg := registry.New(dir)
	install(t, reg, "FastFlights", record.Parameters, &record)

	withPackage := New(reg, zap.NewNop(), WithPackage("fast_flights", starlark.StringDict{
		"FlightData":  starlark.NewBuiltin("FlightData", starlarkstruct.Make),
		"Passengers":  starlark.NewBuiltin("Passengers", starlarkstruct.Make),
		"get_flights": getFlights,
	}))
	flights := withPackage.Discover(context.Background())["FastFlights"]
	require.NotNil(t, flights)

	params := map[string]any{
		"flight_data": []any{map[string]any{"date": "2025-01-01", "from_airport": "TPE", "to_airport": "NRT"}},
	}
	out, err := flights.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"current_price": "low",
		"flights":       []any{map[string]any{"name": "TPE-NRT", "price": "100"}},
	}, out)

	withoutPackage := New(reg, zap.NewNop()).Discover(context.Background())["FastFlights"]
	require.NotNil(t, withoutPackage)
	_, err = withoutPackage.Run(context.Background(), params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package fast_flights is not available")
}

func TestRunHonoursContextCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "spin", synth.ToolFile), `
def _run(params):
    total = 0
    for i in range(1000000000):
        total += i
    return total

def Spin():
    return struct(name = "Spin", description = "", parameters_schema = {}, run = _run, validate = lambda p: True)
`)
	spin := New(registry.New(dir), zap.NewNop()).Discover(context.Background())["Spin"]
	require.NotNil(t, spin)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := spin.Run(ctx, map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, capability.ErrExecution))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMaxStepsBoundsExecution(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "spin", synth.ToolFile), `
def _run(params):
    for i in range(1000000):
        pass
    return "done"

def Spin():
    return struct(name = "Spin", description = "", parameters_schema = {}, run = _run, validate = lambda p: True)
`)
	spin := New(registry.New(dir), zap.NewNop(), WithMaxSteps(10000)).Discover(context.Background())["Spin"]
	require.NotNil(t, spin)

	_, err := spin.Run(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, capability.ErrExecution))
}

func TestIsCompatible(t *testing.T) {
	fn := starlark.NewBuiltin("f", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return starlark.None, nil
	})
	full := starlark.StringDict{
		"name":              starlark.String("X"),
		"description":       starlark.String("x"),
		"parameters_schema": starlark.NewDict(0),
		"run":               fn,
		"validate":          fn,
	}
	assert.True(t, IsCompatible(starlarkstruct.FromStringDict(starlarkstruct.Default, full)))

	for _, missing := range []string{"name", "description", "parameters_schema", "run", "validate"} {
		partial := starlark.StringDict{}
		for k, v := range full {
			if k != missing {
				partial[k] = v
			}
		}
		assert.False(t, IsCompatible(starlarkstruct.FromStringDict(starlarkstruct.Default, partial)), missing)
	}

	notCallable := starlark.StringDict{}
	for k, v := range full {
		notCallable[k] = v
	}
	notCallable["run"] = starlark.String("run")
	assert.False(t, IsCompatible(starlarkstruct.FromStringDict(starlarkstruct.Default, notCallable)))
	assert.False(t, IsCompatible(starlark.String("Echo")))
}
