package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

// scriptCapability adapts an instantiated module object to capability.Capability.
type scriptCapability struct {
	module      *Module
	name        string
	description string
	schema      *capability.ParameterSchema
	run         starlark.Callable
	validate    starlark.Callable
}

func newScriptCapability(m *Module, obj starlark.HasAttrs) (*scriptCapability, error) {
	name, _ := attrString(obj, "name")
	description, _ := attrString(obj, "description")

	rawSchema, err := obj.Attr("parameters_schema")
	if err != nil {
		return nil, err
	}
	data, err := encodeJSON(rawSchema)
	if err != nil {
		return nil, fmt.Errorf("parameters_schema: %w", err)
	}
	schema := capability.NewParameterSchema()
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("parameters_schema: %w", err)
	}

	run, _ := obj.Attr("run")
	validate, _ := obj.Attr("validate")

	return &scriptCapability{
		module:      m,
		name:        name,
		description: description,
		schema:      schema,
		run:         run.(starlark.Callable),
		validate:    validate.(starlark.Callable),
	}, nil
}

func attrString(obj starlark.HasAttrs, name string) (string, bool) {
	v, err := obj.Attr(name)
	if err != nil || v == nil {
		return "", false
	}
	return starlark.AsString(v)
}

func (c *scriptCapability) Name() string {
	return c.name
}

func (c *scriptCapability) Description() string {
	return c.description
}

func (c *scriptCapability) ParametersSchema() *capability.ParameterSchema {
	return c.schema
}

// Run calls the module's run member in a fresh thread bound to ctx.
func (c *scriptCapability) Run(ctx context.Context, params map[string]any) (any, error) {
	arg, err := ToStarlark(c.coerce(params))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capability.ErrInvalidArguments, err)
	}

	thread, done := c.module.loader.newThread(ctx, "run "+c.name, c.module.dir, make(moduleCache))
	defer done()

	v, err := starlark.Call(thread, c.run, starlark.Tuple{arg}, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", capability.ErrExecution, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s", capability.ErrExecution, describe(err))
	}

	out, err := ToGo(v)
	if err != nil {
		return nil, fmt.Errorf("%w: result: %w", capability.ErrExecution, err)
	}
	return out, nil
}

// Validate calls the module's validate member. Any failure counts as invalid.
func (c *scriptCapability) Validate(params map[string]any) bool {
	arg, err := ToStarlark(c.coerce(params))
	if err != nil {
		return false
	}

	thread, done := c.module.loader.newThread(context.Background(), "validate "+c.name, c.module.dir, make(moduleCache))
	defer done()

	v, err := starlark.Call(thread, c.validate, starlark.Tuple{arg}, nil)
	if err != nil {
		c.module.loader.logger.Debug("validate failed",
			zap.String("capability", c.name),
			zap.Error(err))
		return false
	}
	return bool(v.Truth())
}

// coerce turns integral float64 arguments into int64 unless the parameter is declared as a number.
func (c *scriptCapability) coerce(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for name, v := range params {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			out[name] = v
			continue
		}
		if c.schema != nil {
			if spec, declared := c.schema.Get(name); declared && spec.Type == capability.TypeNumber {
				out[name] = v
				continue
			}
		}
		out[name] = int64(f)
	}
	return out
}
