package mapper

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

// DefaultCutoff is the minimum similarity an inferred correspondence must reach.
const DefaultCutoff = 0.6

// Option configures a Mapper.
type Option func(*Mapper)

// WithOverrides sets explicit target -> source field correspondences.
func WithOverrides(overrides map[string]string) Option {
	return func(m *Mapper) {
		for target, source := range overrides {
			m.overrides[target] = source
		}
	}
}

// WithTargetFields restricts the correspondence table to the given target fields.
func WithTargetFields(fields ...string) Option {
	return func(m *Mapper) {
		m.targets = append(m.targets, fields...)
	}
}

// WithInference enables similarity matching for targets without an exact key.
func WithInference(enabled bool) Option {
	return func(m *Mapper) {
		m.infer = enabled
	}
}

// WithCutoff changes the similarity threshold used by inference.
func WithCutoff(cutoff float64) Option {
	return func(m *Mapper) {
		m.cutoff = cutoff
	}
}

// Mapper derives a capability mapping from an analysis record and a normalized sample.
type Mapper struct {
	overrides map[string]string
	targets   []string
	infer     bool
	cutoff    float64
}

// New creates a mapper. With no options every normalized key maps to itself.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		overrides: make(map[string]string),
		cutoff:    DefaultCutoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map builds the input schema, output schema and field correspondence. It has no side effects.
func (m *Mapper) Map(normalized map[string]any, record *capability.AnalysisRecord) capability.Mapping {
	var input *capability.ParameterSchema
	if record != nil {
		input = record.Parameters
	}
	return capability.Mapping{
		InputSchema:         input,
		OutputSchema:        InferSchema(normalized),
		FieldCorrespondence: m.Correspondence(normalized),
	}
}

// Correspondence resolves every target field to a source key, or nil when unresolved.
func (m *Mapper) Correspondence(normalized map[string]any) map[string]*string {
	keys := sortedKeys(normalized)
	out := make(map[string]*string)

	if len(m.targets) == 0 {
		for _, key := range keys {
			out[key] = strPtr(key)
		}
		for target, source := range m.overrides {
			out[target] = strPtr(source)
		}
		return out
	}

	for _, target := range m.targets {
		out[target] = m.resolve(target, normalized, keys)
	}
	return out
}

// Resolve returns the values of data for each target field, nil when unresolved.
func (m *Mapper) Resolve(data map[string]any, fields []string) map[string]any {
	keys := sortedKeys(data)
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		source := m.resolve(field, data, keys)
		if source == nil {
			out[field] = nil
			continue
		}
		out[field] = data[*source]
	}
	return out
}

func (m *Mapper) resolve(target string, data map[string]any, keys []string) *string {
	if source, ok := m.overrides[target]; ok {
		return strPtr(source)
	}
	if _, ok := data[target]; ok {
		return strPtr(target)
	}
	if !m.infer {
		return nil
	}
	if best, ok := closestMatch(target, keys, m.cutoff); ok {
		return strPtr(best)
	}
	return nil
}

// InferSchema returns a JSON-Schema-like description of a normalized value.
func InferSchema(v any) map[string]any {
	switch t := v.(type) {
	case string:
		return map[string]any{"type": capability.TypeString}
	case bool:
		return map[string]any{"type": capability.TypeBoolean}
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return map[string]any{"type": capability.TypeInteger}
		}
		return map[string]any{"type": capability.TypeNumber}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return map[string]any{"type": capability.TypeInteger}
	case float32, float64:
		return map[string]any{"type": capability.TypeNumber}
	case []any:
		items := map[string]any{"type": capability.TypeString}
		if len(t) > 0 {
			items = InferSchema(t[0])
		}
		return map[string]any{"type": capability.TypeArray, "items": items}
	case map[string]any:
		properties := make(map[string]any, len(t))
		for key, value := range t {
			properties[key] = InferSchema(value)
		}
		return map[string]any{"type": capability.TypeObject, "properties": properties}
	default:
		return map[string]any{"type": capability.TypeString}
	}
}

// LoadOverrides reads a target -> source override file.
func LoadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field map: %w", err)
	}
	var overrides map[string]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse field map %s: %w", path, err)
	}
	return overrides, nil
}

// SaveOverrides writes an override file.
func SaveOverrides(path string, overrides map[string]string) error {
	data, err := json.MarshalIndent(overrides, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode field map: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write field map: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func strPtr(s string) *string {
	return &s
}
