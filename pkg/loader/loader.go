// Package loader discovers synthesized capability modules and runs them in isolated
// Starlark interpreters.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
	"github.com/shaowenchen/mcp-tool-forge/pkg/synth"
)

// ScanPattern matches candidate module files when the registry is unavailable.
const ScanPattern = "**/{tool,*_tool}.star"

var tracer = otel.Tracer("github.com/shaowenchen/mcp-tool-forge/pkg/loader")

// Loader turns module files into live capabilities.
type Loader struct {
	registry    *registry.Registry
	logger      *zap.Logger
	httpClient  *http.Client
	httpModule  *starlarkstruct.Module
	packages    map[string]*starlarkstruct.Module
	maxSteps    uint64
	fileOptions *syntax.FileOptions
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient sets the client behind the http builtin.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) {
		if client != nil {
			l.httpClient = client
		}
	}
}

// WithPackage exposes a host package to modules through package(name).
func WithPackage(name string, members starlark.StringDict) Option {
	return func(l *Loader) {
		l.packages[name] = &starlarkstruct.Module{Name: name, Members: members}
	}
}

// WithMaxSteps bounds the computation of a single module execution or call.
// Zero means unbounded.
func WithMaxSteps(n uint64) Option {
	return func(l *Loader) {
		l.maxSteps = n
	}
}

// New creates a loader over the tools directory owned by reg.
func New(reg *registry.Registry, logger *zap.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		registry:    reg,
		logger:      logger.Named("loader"),
		httpClient:  NewHTTPClient(30 * time.Second),
		packages:    make(map[string]*starlarkstruct.Module),
		fileOptions: &syntax.FileOptions{Set: true},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.httpModule = l.newHTTPModule()
	return l
}

// Discover loads every capability the registry lists, or every module matching
// ScanPattern when the registry is missing or unreadable. Modules that fail are logged
// and skipped. Each call returns fresh instances.
func (l *Loader) Discover(ctx context.Context) map[string]capability.Capability {
	ctx, span := tracer.Start(ctx, "loader.Discover")
	defer span.End()

	var caps map[string]capability.Capability
	entries, err := l.registry.Load()
	if err != nil {
		l.logger.Warn("registry unavailable, scanning tools directory",
			zap.String("path", l.registry.Path()),
			zap.Error(err))
		caps = l.scan(ctx)
	} else {
		caps = l.fromRegistry(ctx, entries)
	}

	span.SetAttributes(attribute.Int("capabilities", len(caps)))
	l.logger.Info("capabilities discovered", zap.Int("count", len(caps)))
	return caps
}

func (l *Loader) fromRegistry(ctx context.Context, entries map[string]registry.Entry) map[string]capability.Capability {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	caps := make(map[string]capability.Capability, len(entries))
	for _, name := range names {
		path := filepath.Join(l.registry.Dir(), entries[name].Directory, synth.ToolFile)
		c, err := l.load(ctx, path, capability.ClassIdent(name), false)
		if err != nil {
			l.discoveryFailed("registry", name, path, err)
			continue
		}
		l.add(caps, c, path)
	}
	return caps
}

func (l *Loader) scan(ctx context.Context) map[string]capability.Capability {
	caps := make(map[string]capability.Capability)
	matches, err := doublestar.Glob(os.DirFS(l.registry.Dir()), ScanPattern)
	if err != nil {
		l.discoveryFailed("scan", "", l.registry.Dir(), err)
		return caps
	}
	sort.Strings(matches)

	for _, match := range matches {
		path := filepath.Join(l.registry.Dir(), filepath.FromSlash(match))
		c, err := l.load(ctx, path, "", true)
		if err != nil {
			l.discoveryFailed("scan", "", path, err)
			continue
		}
		l.add(caps, c, path)
	}
	return caps
}

func (l *Loader) add(caps map[string]capability.Capability, c capability.Capability, path string) {
	if _, ok := caps[c.Name()]; ok {
		l.logger.Warn("duplicate capability name, keeping first",
			zap.String("name", c.Name()),
			zap.String("path", path))
		return
	}
	caps[c.Name()] = c
}

func (l *Loader) discoveryFailed(source, name, path string, err error) {
	metrics.RecordDiscoveryFailure(source)
	if !errors.Is(err, capability.ErrDiscovery) {
		err = fmt.Errorf("%w: %w", capability.ErrDiscovery, err)
	}
	l.logger.Warn("capability discovery failed",
		zap.String("source", source),
		zap.String("name", name),
		zap.String("path", path),
		zap.Error(err))
}

func (l *Loader) load(ctx context.Context, path, preferred string, scanning bool) (capability.Capability, error) {
	mod, err := l.LoadModule(ctx, path)
	if err != nil {
		return nil, err
	}
	return mod.instantiate(ctx, preferred, scanning)
}

// Module is an executed module file.
type Module struct {
	loader  *Loader
	path    string
	dir     string
	globals starlark.StringDict
	defs    []string
}

// LoadModule parses and executes a module file in a fresh interpreter.
func (l *Loader) LoadModule(ctx context.Context, path string) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capability.ErrDiscovery, err)
	}

	f, err := l.fileOptions.Parse(path, src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capability.ErrDiscovery, err)
	}
	var defs []string
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok {
			defs = append(defs, def.Name.Name)
		}
	}

	dir := filepath.Dir(path)
	thread, done := l.newThread(ctx, "load "+filepath.Base(path), dir, make(moduleCache))
	defer done()

	globals, err := starlark.ExecFileOptions(l.fileOptions, thread, path, src, l.predeclared())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", capability.ErrDiscovery, path, describe(err))
	}
	globals.Freeze()

	return &Module{loader: l, path: path, dir: dir, globals: globals, defs: defs}, nil
}

// Instantiate builds the capability defined by the module. The constructor named
// preferred is tried first, then every other top-level constructor in declaration order.
func (m *Module) Instantiate(ctx context.Context, preferred string) (capability.Capability, error) {
	return m.instantiate(ctx, preferred, false)
}

func (m *Module) instantiate(ctx context.Context, preferred string, scanning bool) (capability.Capability, error) {
	var (
		first     capability.Capability
		firstName string
		others    []string
	)
	for _, name := range m.candidates(preferred) {
		c, err := m.construct(ctx, name)
		if err != nil {
			m.loader.logger.Debug("skipping constructor",
				zap.String("path", m.path),
				zap.String("constructor", name),
				zap.Error(err))
			continue
		}
		if !scanning {
			return c, nil
		}
		if first == nil {
			first, firstName = c, name
			continue
		}
		others = append(others, name)
	}

	if first == nil {
		return nil, fmt.Errorf("%w: %s defines no compatible capability", capability.ErrDiscovery, m.path)
	}
	if len(others) > 0 {
		m.loader.logger.Warn("module defines several capabilities, using the first",
			zap.String("path", m.path),
			zap.String("selected", firstName),
			zap.Strings("ignored", others))
	}
	return first, nil
}

func (m *Module) candidates(preferred string) []string {
	names := make([]string, 0, len(m.defs)+1)
	if _, ok := m.globals[preferred]; ok && preferred != "" {
		names = append(names, preferred)
	}
	for _, name := range m.defs {
		if name == preferred || !isConstructorName(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func isConstructorName(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// construct calls a zero-argument constructor and checks the result.
func (m *Module) construct(ctx context.Context, name string) (capability.Capability, error) {
	fn, ok := m.globals[name].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s is not callable", name)
	}

	thread, done := m.loader.newThread(ctx, "construct "+name, m.dir, make(moduleCache))
	defer done()

	v, err := starlark.Call(thread, fn, nil, nil)
	if err != nil {
		return nil, errors.New(describe(err))
	}
	if !IsCompatible(v) {
		return nil, fmt.Errorf("%s() result is not a capability", name)
	}
	return newScriptCapability(m, v.(starlark.HasAttrs))
}

// IsCompatible reports whether v carries the capability shape: string name and
// description, a parameters_schema mapping, and callable run and validate members.
func IsCompatible(v starlark.Value) bool {
	obj, ok := v.(starlark.HasAttrs)
	if !ok {
		return false
	}
	for _, name := range []string{"name", "description"} {
		attr, err := obj.Attr(name)
		if err != nil || attr == nil {
			return false
		}
		if _, ok := attr.(starlark.String); !ok {
			return false
		}
	}
	schema, err := obj.Attr("parameters_schema")
	if err != nil || schema == nil {
		return false
	}
	if _, ok := schema.(*starlark.Dict); !ok {
		return false
	}
	for _, name := range []string{"run", "validate"} {
		attr, err := obj.Attr(name)
		if err != nil || attr == nil {
			return false
		}
		if _, ok := attr.(starlark.Callable); !ok {
			return false
		}
	}
	return true
}

// Invoke runs the accessor function of the capability stored in directory, relative to
// the tools directory.
func (l *Loader) Invoke(ctx context.Context, directory, name string, args map[string]any) (any, error) {
	ctx, span := tracer.Start(ctx, "loader.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("capability", name))

	mod, err := l.LoadModule(ctx, filepath.Join(l.registry.Dir(), directory, synth.WrapperFile))
	if err != nil {
		return nil, err
	}
	fnName := synth.AccessorFunc(name)
	fn, ok := mod.globals[fnName].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not define %s", capability.ErrDiscovery, mod.path, fnName)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kwargs := make([]starlark.Tuple, 0, len(keys))
	for _, k := range keys {
		v, err := ToStarlark(args[k])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %q: %w", capability.ErrInvalidArguments, k, err)
		}
		kwargs = append(kwargs, starlark.Tuple{starlark.String(k), v})
	}

	thread, done := l.newThread(ctx, "invoke "+name, mod.dir, make(moduleCache))
	defer done()

	v, err := starlark.Call(thread, fn, nil, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", capability.ErrExecution, describe(err))
	}
	return ToGo(v)
}

type cacheEntry struct {
	globals starlark.StringDict
	err     error
}

type moduleCache map[string]*cacheEntry

// newThread returns an interpreter thread bound to ctx. Cancelling ctx interrupts it.
func (l *Loader) newThread(ctx context.Context, name, dir string, cache moduleCache) (*starlark.Thread, func()) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Debug(msg, zap.String("thread", name))
		},
	}
	thread.Load = func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
		return l.loadRelative(ctx, dir, module, cache)
	}
	thread.SetLocal(localContext, ctx)
	if l.maxSteps > 0 {
		thread.SetMaxExecutionSteps(l.maxSteps)
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	return thread, func() { stop() }
}

// loadRelative resolves load() statements. Only .star files inside the module's own
// directory are reachable.
func (l *Loader) loadRelative(ctx context.Context, dir, module string, cache moduleCache) (starlark.StringDict, error) {
	clean := filepath.Clean(filepath.FromSlash(module))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("load of %q outside module directory", module)
	}
	if filepath.Ext(clean) != ".star" {
		return nil, fmt.Errorf("load of %q: only .star files can be loaded", module)
	}

	if e, ok := cache[clean]; ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph at %q", module)
		}
		return e.globals, e.err
	}
	cache[clean] = nil

	path := filepath.Join(dir, clean)
	src, err := os.ReadFile(path)
	if err != nil {
		cache[clean] = &cacheEntry{err: err}
		return nil, err
	}

	thread, done := l.newThread(ctx, "load "+clean, dir, cache)
	defer done()
	globals, err := starlark.ExecFileOptions(l.fileOptions, thread, path, src, l.predeclared())
	if err == nil {
		globals.Freeze()
	}
	cache[clean] = &cacheEntry{globals: globals, err: err}
	return globals, err
}

func describe(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}
