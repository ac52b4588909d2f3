package synth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

// schemaLiteral renders the parameter schema as a Starlark dict in declaration order.
func schemaLiteral(schema *capability.ParameterSchema) (string, error) {
	if schema == nil {
		return "{}", nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	v, err := decodeOrdered(data)
	if err != nil {
		return "", err
	}
	return literal(v, "", false), nil
}

// decodeOrdered decodes JSON keeping object key order and number text.
func decodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return readValue(dec)
}

func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		m := orderedmap.New[string, any]()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			value, err := readValue(dec)
			if err != nil {
				return nil, err
			}
			m.Set(key, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return m, nil
	case '[':
		list := []any{}
		for dec.More() {
			value, err := readValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}

// literal renders v as Starlark source. Non-empty containers span multiple lines
// unless flat is set.
func literal(v any, indent string, flat bool) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return quote(t)
	case json.Number:
		return t.String()
	case float64:
		return floatLiteral(t)
	case float32:
		return floatLiteral(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case []any:
		items := make([]string, len(t))
		for i, item := range t {
			items[i] = literal(item, indent+"    ", flat)
		}
		return container("[", "]", items, indent, flat)
	case *orderedmap.OrderedMap[string, any]:
		items := make([]string, 0, t.Len())
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			items = append(items, quote(pair.Key)+": "+literal(pair.Value, indent+"    ", flat))
		}
		return container("{", "}", items, indent, flat)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, len(keys))
		for i, k := range keys {
			items[i] = quote(k) + ": " + literal(t[k], indent+"    ", flat)
		}
		return container("{", "}", items, indent, flat)
	default:
		return quote(fmt.Sprint(v))
	}
}

func container(open, close string, items []string, indent string, flat bool) string {
	if len(items) == 0 {
		return open + close
	}
	if flat {
		return open + strings.Join(items, ", ") + close
	}
	var b strings.Builder
	b.WriteString(open)
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString(indent + "    " + item + ",\n")
	}
	b.WriteString(indent + close)
	return b.String()
}

func floatLiteral(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return `float("inf")`
	case math.IsInf(f, -1):
		return `float("-inf")`
	case math.IsNaN(f):
		return `float("nan")`
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
