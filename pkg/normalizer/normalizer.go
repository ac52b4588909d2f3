package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

// ResultKey wraps values that do not normalize to a mapping.
const ResultKey = "result"

// Func converts a value of a registered type into plain data.
type Func func(v any) (any, error)

// Normalizer converts tagged records, mappings, JSON text and lists into canonical
// mappings of plain Go values (map[string]any, []any, json.Number, string, bool, nil).
type Normalizer struct {
	mu    sync.RWMutex
	funcs map[reflect.Type]Func
}

// New creates a normalizer with no registered plugins.
func New() *Normalizer {
	return &Normalizer{funcs: make(map[reflect.Type]Func)}
}

// Register installs fn for values with the same dynamic type as sample.
func (n *Normalizer) Register(sample any, fn Func) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.funcs[reflect.TypeOf(sample)] = fn
}

// Normalize returns v as a mapping; non-mapping results are wrapped under ResultKey.
func (n *Normalizer) Normalize(v any) (map[string]any, error) {
	out, err := n.ToValue(v)
	if err != nil {
		return nil, err
	}
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{ResultKey: out}, nil
}

// ToValue converts v recursively without forcing a mapping at the top level.
// Only a top-level string or byte slice is parsed as JSON text; nested strings are kept as is.
func (n *Normalizer) ToValue(v any) (any, error) {
	if _, ok := n.lookup(v); !ok {
		switch t := v.(type) {
		case string:
			return decodeText([]byte(t), t), nil
		case []byte:
			return decodeText(t, string(t)), nil
		}
	}
	return n.value(v)
}

func (n *Normalizer) lookup(v any) (Func, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn, ok := n.funcs[reflect.TypeOf(v)]
	return fn, ok
}

func (n *Normalizer) value(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if fn, ok := n.lookup(v); ok {
		out, err := fn(v)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize %T: %w", v, err)
		}
		return out, nil
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return decodeText(t, string(t)), nil
	case json.Number, bool, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, nil
	case map[string]any:
		return n.mapValues(t)
	case []any:
		return n.sliceValues(t)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return n.structValue(rv.Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Sprint(v), nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := n.value(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return n.sliceValues(items)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// ToJSON serializes the normalized form of v.
func (n *Normalizer) ToJSON(v any) (string, error) {
	out, err := n.ToValue(v)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("could not serialize object to JSON: %w", err)
	}
	return string(data), nil
}

func (n *Normalizer) structValue(v any) (any, error) {
	raw := make(map[string]any)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return n.mapValues(raw)
}

func (n *Normalizer) mapValues(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, item := range m {
		converted, err := n.value(item)
		if err != nil {
			return nil, err
		}
		out[k] = converted
	}
	return out, nil
}

func (n *Normalizer) sliceValues(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		converted, err := n.value(item)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

// decodeText parses JSON text, keeping numbers as json.Number; anything else is returned as text.
func decodeText(data []byte, text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return text
	}
	if dec.More() {
		return text
	}
	return out
}
