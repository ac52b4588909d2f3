package analyzer

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// The types below only describe the expected answer to the model. Decoding goes
// straight into capability.AnalysisRecord.

type parameterShape struct {
	Type           string            `json:"type" jsonschema:"enum=string,enum=integer,enum=number,enum=boolean,enum=array,enum=object"`
	Description    string            `json:"description"`
	Required       bool              `json:"required,omitempty" jsonschema:"description=Defaults to true when omitted"`
	Default        any               `json:"default,omitempty"`
	Enum           []any             `json:"enum,omitempty"`
	ClassName      string            `json:"class_name,omitempty" jsonschema:"description=Host type constructed from an object parameter"`
	ItemClass      string            `json:"item_class,omitempty" jsonschema:"description=Host type constructed for every array element"`
	ClassStructure map[string]string `json:"class_structure,omitempty" jsonschema:"description=Field name to type of the nested object"`
}

type endpointShape struct {
	Path        string `json:"path"`
	Method      string `json:"method" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE"`
	Description string `json:"description,omitempty"`
}

type functionShape struct {
	Name            string `json:"name"`
	ImportStatement string `json:"import_statement,omitempty"`
}

type authenticationShape struct {
	Type          string `json:"type" jsonschema:"enum=api_key,enum=bearer,enum=none"`
	Location      string `json:"location,omitempty" jsonschema:"enum=header,enum=query"`
	ParameterName string `json:"parameter_name,omitempty"`
}

type responseFieldShape struct {
	Type          string            `json:"type"`
	Description   string            `json:"description,omitempty"`
	ItemStructure map[string]string `json:"item_structure,omitempty"`
}

type responseFormatShape struct {
	Type      string                        `json:"type" jsonschema:"enum=object,enum=dataclass,enum=dict,enum=array"`
	Structure map[string]responseFieldShape `json:"structure,omitempty"`
	Example   any                           `json:"example,omitempty"`
}

type analysisShape struct {
	APIName        string                    `json:"api_name"`
	Description    string                    `json:"description"`
	APIType        string                    `json:"api_type" jsonschema:"enum=rest,enum=python_package"`
	BaseURL        string                    `json:"base_url,omitempty"`
	PackageName    string                    `json:"package_name,omitempty"`
	MainFunction   *functionShape            `json:"main_function,omitempty"`
	Endpoints      []endpointShape           `json:"endpoints,omitempty"`
	Parameters     map[string]parameterShape `json:"parameters"`
	Authentication *authenticationShape      `json:"authentication,omitempty"`
	ResponseFormat *responseFormatShape      `json:"response_format,omitempty"`
	ErrorHandling  map[string]any            `json:"error_handling,omitempty"`
	UsageExamples  []any                     `json:"usage_examples,omitempty"`
	Confidence     float64                   `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

// ResponseSchema returns the JSON Schema the model is asked to follow.
func ResponseSchema() (string, error) {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(&analysisShape{})
	schema.Version = ""
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
