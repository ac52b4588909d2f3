package capability

import (
	"encoding/json"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// APIKind selects the synthesis template for an analysis record.
type APIKind string

const (
	// APIKindREST is an HTTP API reached through base_url and endpoints.
	APIKindREST APIKind = "rest"
	// APIKindPackage is a host package invoked through its main function.
	APIKindPackage APIKind = "python_package"
)

// ParseAPIKind maps an api_type string onto a kind; unknown values are REST.
func ParseAPIKind(s string) APIKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python_package", "package", "library":
		return APIKindPackage
	default:
		return APIKindREST
	}
}

// Endpoint is one documented API route.
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method,omitempty"`
	Description string `json:"description,omitempty"`
}

// FunctionRef names the entry point of a package API.
type FunctionRef struct {
	Name            string `json:"name"`
	ImportStatement string `json:"import_statement,omitempty"`
}

// Authentication describes how credentials are passed.
type Authentication struct {
	Type          string `json:"type,omitempty"`
	Location      string `json:"location,omitempty"`
	ParameterName string `json:"parameter_name,omitempty"`
}

// ResponseField describes one field of a documented response.
type ResponseField struct {
	Type          string                              `json:"type"`
	Description   string                              `json:"description,omitempty"`
	ItemStructure *orderedmap.OrderedMap[string, any] `json:"item_structure,omitempty"`
}

// UnmarshalJSON accepts a bare type string in place of the object form.
func (f *ResponseField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = ResponseField{Type: s}
		return nil
	}
	type plain ResponseField
	return json.Unmarshal(data, (*plain)(f))
}

// ResponseFormat describes the documented response shape.
type ResponseFormat struct {
	Type      string                                        `json:"type,omitempty"`
	Structure *orderedmap.OrderedMap[string, ResponseField] `json:"structure,omitempty"`
	Example   any                                           `json:"example,omitempty"`
}

// AnalysisRecord is the structured description of an API extracted from documentation.
type AnalysisRecord struct {
	APIName        string           `json:"api_name"`
	Description    string           `json:"description"`
	BaseURL        string           `json:"base_url,omitempty"`
	APIType        string           `json:"api_type,omitempty"`
	PackageName    string           `json:"package_name,omitempty"`
	MainFunction   *FunctionRef     `json:"main_function,omitempty"`
	Endpoints      []Endpoint       `json:"endpoints,omitempty"`
	Parameters     *ParameterSchema `json:"parameters"`
	Authentication *Authentication  `json:"authentication,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
	ErrorHandling  any              `json:"error_handling,omitempty"`
	UsageExamples  []any            `json:"usage_examples,omitempty"`
	Confidence     float64          `json:"confidence"`
	ProviderID     string           `json:"provider_id,omitempty"`
}

// Kind returns the tagged variant used for template selection.
func (r *AnalysisRecord) Kind() APIKind {
	return ParseAPIKind(r.APIType)
}

// Mapping is the contract between a capability's inputs and its normalized output.
type Mapping struct {
	InputSchema         *ParameterSchema   `json:"input_schema"`
	OutputSchema        map[string]any     `json:"output_schema"`
	FieldCorrespondence map[string]*string `json:"field_correspondence"`
}
