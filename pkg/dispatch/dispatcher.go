// Package dispatch serves loaded capabilities over line-delimited JSON-RPC.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

const metricsModule = "dispatch"

var tracer = otel.Tracer("github.com/shaowenchen/mcp-tool-forge/pkg/dispatch")

// Source produces a fresh set of capabilities, e.g. *loader.Loader.
type Source interface {
	Discover(ctx context.Context) map[string]capability.Capability
}

type table = map[string]capability.Capability

// Dispatcher owns the active capability table. Reads never observe a partially
// replaced table.
type Dispatcher struct {
	source        Source
	logger        *zap.Logger
	tools         atomic.Pointer[table]
	refreshMu     sync.Mutex
	callTimeout   time.Duration
	serverName    string
	serverVersion string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCallTimeout bounds every run. Zero means no timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.callTimeout = d
	}
}

// WithServerInfo sets the name and version reported by initialize.
func WithServerInfo(name, version string) Option {
	return func(disp *Dispatcher) {
		disp.serverName = name
		disp.serverVersion = version
	}
}

// New creates a dispatcher with an empty table. Call Refresh or Set to load tools.
func New(source Source, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		source:        source,
		logger:        logger.Named("dispatch"),
		serverName:    "mcp-tool-forge",
		serverVersion: "dev",
	}
	for _, opt := range opts {
		opt(d)
	}
	empty := make(table)
	d.tools.Store(&empty)
	return d
}

// Refresh runs discovery. A partial refresh only adds names that are not loaded yet;
// a full refresh replaces the whole table. It returns the table size.
func (d *Dispatcher) Refresh(ctx context.Context, full bool) int {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	discovered := d.source.Discover(ctx)
	next := make(table, len(discovered))
	added := 0
	if full {
		for name, c := range discovered {
			next[name] = c
		}
		added = len(discovered)
	} else {
		for name, c := range *d.tools.Load() {
			next[name] = c
		}
		for name, c := range discovered {
			if _, ok := next[name]; !ok {
				next[name] = c
				added++
			}
		}
	}
	d.tools.Store(&next)
	metrics.SetCapabilitiesLoaded(len(next))

	d.logger.Info("capability table refreshed",
		zap.Bool("full", full),
		zap.Int("added", added),
		zap.Int("total", len(next)))
	return len(next)
}

// Set replaces the table with caps.
func (d *Dispatcher) Set(caps map[string]capability.Capability) {
	next := make(table, len(caps))
	for name, c := range caps {
		next[name] = c
	}
	d.tools.Store(&next)
	metrics.SetCapabilitiesLoaded(len(next))
}

// Get looks up a loaded capability.
func (d *Dispatcher) Get(name string) (capability.Capability, bool) {
	c, ok := (*d.tools.Load())[name]
	return c, ok
}

// Names returns the loaded capability names, sorted.
func (d *Dispatcher) Names() []string {
	tools := *d.tools.Load()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InputSchema is the JSON Schema advertised for a tool's arguments.
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]map[string]any `json:"properties"`
	Required   []string                  `json:"required"`
}

// ToolDescriptor is one entry of a tools/list result.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// List describes every loaded capability, sorted by name.
func (d *Dispatcher) List() []ToolDescriptor {
	tools := *d.tools.Load()
	out := make([]ToolDescriptor, 0, len(tools))
	for _, name := range d.Names() {
		c, ok := tools[name]
		if !ok {
			continue
		}
		out = append(out, Describe(name, c))
	}
	return out
}

// Describe builds the tools/list entry for c. Every declared parameter is listed as
// required; array parameters default items to an object and object parameters
// default properties to an empty mapping.
func Describe(name string, c capability.Capability) ToolDescriptor {
	schema := InputSchema{
		Type:       "object",
		Properties: make(map[string]map[string]any),
		Required:   []string{},
	}
	if params := c.ParametersSchema(); params != nil {
		for pair := params.Oldest(); pair != nil; pair = pair.Next() {
			schema.Properties[pair.Key] = describeParameter(pair.Value)
			schema.Required = append(schema.Required, pair.Key)
		}
	}
	return ToolDescriptor{
		Name:        name,
		Description: c.Description(),
		InputSchema: schema,
	}
}

func describeParameter(spec capability.ParameterSpec) map[string]any {
	typ := spec.Type
	if typ == "" {
		typ = capability.TypeString
	}
	prop := map[string]any{
		"type":        typ,
		"description": spec.Description,
	}
	if len(spec.Enum) > 0 {
		prop["enum"] = spec.Enum
	}
	switch typ {
	case capability.TypeArray:
		if spec.Items != nil {
			prop["items"] = spec.Items
		} else {
			prop["items"] = map[string]any{"type": "object"}
		}
	case capability.TypeObject:
		if spec.Properties != nil {
			prop["properties"] = spec.Properties
		} else {
			prop["properties"] = map[string]any{}
		}
	}
	return prop
}

// Call validates arguments and runs the named capability. Failures are *capability.CallError.
// Tool call metrics are recorded by the serving surface, not here.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "dispatch.Call", trace.WithAttributes(attribute.String("tool", name)))
	defer span.End()

	result, err := d.call(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c, ok := d.Get(name)
	if !ok {
		return nil, &capability.CallError{Name: name, Kind: capability.ErrUnknownCapability}
	}
	if args == nil {
		args = map[string]any{}
	}
	if !c.Validate(args) {
		return nil, &capability.CallError{Name: name, Kind: capability.ErrInvalidArguments}
	}

	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}
	out, err := c.Run(ctx, args)
	if err != nil {
		if !errors.Is(err, capability.ErrExecution) {
			err = fmt.Errorf("%w: %w", capability.ErrExecution, err)
		}
		return nil, &capability.CallError{Name: name, Kind: capability.ErrExecution, Cause: err}
	}

	text, err := RenderResult(out)
	if err != nil {
		return nil, &capability.CallError{Name: name, Kind: capability.ErrExecution, Cause: err}
	}
	return mcp.NewToolResultText(text), nil
}

// RenderResult encodes structured results as indented JSON and everything else as text.
func RenderResult(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case string:
		return t, nil
	case map[string]any, []any:
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode result: %w", err)
		}
		return string(data), nil
	default:
		return fmt.Sprint(t), nil
	}
}
