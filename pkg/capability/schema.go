package capability

import (
	"bytes"
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Parameter types understood by the synthesizer and the dispatcher.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// TypeDescriptor names the type of a nested field, e.g. "string" or "List[FlightData]".
type TypeDescriptor string

// UnmarshalJSON accepts either a plain string or an object carrying a "type" key.
func (t *TypeDescriptor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = TypeDescriptor(s)
		return nil
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Type != "" {
		*t = TypeDescriptor(obj.Type)
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return err
	}
	*t = TypeDescriptor(compact.String())
	return nil
}

// ParameterSpec describes a single capability input.
type ParameterSpec struct {
	Type           string                                         `json:"type"`
	Description    string                                         `json:"description"`
	Required       bool                                           `json:"required"`
	Default        any                                            `json:"default,omitempty"`
	Enum           []any                                          `json:"enum,omitempty"`
	ClassName      string                                         `json:"class_name,omitempty"`
	ItemClass      string                                         `json:"item_class,omitempty"`
	ClassStructure *orderedmap.OrderedMap[string, TypeDescriptor] `json:"class_structure,omitempty"`
	Items          map[string]any                                 `json:"items,omitempty"`
	Properties     map[string]any                                 `json:"properties,omitempty"`
}

// UnmarshalJSON decodes a parameter, treating a missing "required" as true.
func (p *ParameterSpec) UnmarshalJSON(data []byte) error {
	type plain ParameterSpec
	aux := struct {
		*plain
		Required *bool `json:"required"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Required = aux.Required == nil || *aux.Required
	return nil
}

// HasDefault reports whether the parameter declares a default value.
func (p ParameterSpec) HasDefault() bool {
	return p.Default != nil
}

// NestedFields returns the declared nested field names in order.
func (p ParameterSpec) NestedFields() []string {
	if p.ClassStructure == nil {
		return nil
	}
	fields := make([]string, 0, p.ClassStructure.Len())
	for pair := p.ClassStructure.Oldest(); pair != nil; pair = pair.Next() {
		fields = append(fields, pair.Key)
	}
	return fields
}

// ParameterSchema is an insertion-ordered mapping of parameter name to spec.
type ParameterSchema = orderedmap.OrderedMap[string, ParameterSpec]

// NewParameterSchema returns an empty schema.
func NewParameterSchema() *ParameterSchema {
	return orderedmap.New[string, ParameterSpec]()
}

// ParameterNames returns the schema keys in declaration order.
func ParameterNames(schema *ParameterSchema) []string {
	if schema == nil {
		return nil
	}
	names := make([]string, 0, schema.Len())
	for pair := schema.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}
