package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
)

// ToStarlark converts plain Go data into Starlark values. Map keys are inserted in
// sorted order so conversions are deterministic.
func ToStarlark(v any) (starlark.Value, error) {
	switch t := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return t, nil
	case bool:
		return starlark.Bool(t), nil
	case string:
		return starlark.String(t), nil
	case int:
		return starlark.MakeInt(t), nil
	case int8:
		return starlark.MakeInt64(int64(t)), nil
	case int16:
		return starlark.MakeInt64(int64(t)), nil
	case int32:
		return starlark.MakeInt64(int64(t)), nil
	case int64:
		return starlark.MakeInt64(t), nil
	case uint:
		return starlark.MakeUint(t), nil
	case uint8:
		return starlark.MakeUint64(uint64(t)), nil
	case uint16:
		return starlark.MakeUint64(uint64(t)), nil
	case uint32:
		return starlark.MakeUint64(uint64(t)), nil
	case uint64:
		return starlark.MakeUint64(t), nil
	case float32:
		return starlark.Float(t), nil
	case float64:
		return starlark.Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return starlark.Float(f), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(t))
		for _, k := range keys {
			item, err := ToStarlark(t[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), item); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case []any:
		items := make([]starlark.Value, len(t))
		for i, item := range t {
			converted, err := ToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = converted
		}
		return starlark.NewList(items), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return ToStarlark(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return ToStarlark(m)
	case reflect.Pointer:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return ToStarlark(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

// ToGo converts a Starlark value into plain Go data. Structs become maps of their
// non-callable attributes.
func ToGo(v starlark.Value) (any, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.String:
		return string(t), nil
	case starlark.Bytes:
		return string(t), nil
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i, nil
		}
		return json.Number(t.String()), nil
	case starlark.Float:
		return float64(t), nil
	case *starlark.List:
		return iterableToGo(t, t.Len())
	case starlark.Tuple:
		return iterableToGo(t, t.Len())
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, item := range t.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			value, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = value
		}
		return out, nil
	case starlark.Callable:
		return nil, fmt.Errorf("cannot convert %s %s", t.Type(), t.Name())
	case starlark.HasAttrs:
		out := make(map[string]any)
		for _, name := range t.AttrNames() {
			attr, err := t.Attr(name)
			if err != nil || attr == nil {
				continue
			}
			if _, ok := attr.(starlark.Callable); ok {
				continue
			}
			value, err := ToGo(attr)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", name, err)
			}
			out[name] = value
		}
		return out, nil
	}
	return v.String(), nil
}

func iterableToGo(seq starlark.Indexable, n int) ([]any, error) {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		value, err := ToGo(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = value
	}
	return out, nil
}

// encodeJSON writes v as JSON keeping dict insertion order.
func encodeJSON(v starlark.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v starlark.Value) error {
	switch t := v.(type) {
	case starlark.NoneType:
		buf.WriteString("null")
	case starlark.Bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case starlark.String:
		return writeJSONString(buf, string(t))
	case starlark.Int:
		buf.WriteString(t.String())
	case starlark.Float:
		f := float64(t)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return fmt.Errorf("cannot encode %v as JSON", f)
		}
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		buf.Write(data)
	case *starlark.Dict:
		buf.WriteByte('{')
		for i, item := range t.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return fmt.Errorf("dict key %s is not a string", item[0])
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeJSON(buf, item[1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case *starlark.List:
		return writeJSONSeq(buf, t, t.Len())
	case starlark.Tuple:
		return writeJSONSeq(buf, t, t.Len())
	default:
		return fmt.Errorf("cannot encode %s as JSON", v.Type())
	}
	return nil
}

func writeJSONSeq(buf *bytes.Buffer, seq starlark.Indexable, n int) error {
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(buf, seq.Index(i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
