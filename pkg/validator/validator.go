package validator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

const (
	keyInputSchema  = "input_schema"
	keyOutputSchema = "output_schema"
)

// Result is the outcome of a contract check. Errors keeps every violation in rule order.
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// Err returns a SchemaValidationError for an invalid result, nil otherwise.
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &capability.SchemaValidationError{Errors: append([]string(nil), r.Errors...)}
}

// Validate checks the minimum structure of a capability mapping. All rules are
// evaluated so every violation is reported together.
func Validate(mapping map[string]any) Result {
	var errs []string

	input, hasInput := mapping[keyInputSchema]
	output, hasOutput := mapping[keyOutputSchema]

	if !hasInput {
		errs = append(errs, "missing required field: "+keyInputSchema)
	}
	if !hasOutput {
		errs = append(errs, "missing required field: "+keyOutputSchema)
	}

	if hasInput {
		inputMap, ok := input.(map[string]any)
		switch {
		case !ok:
			errs = append(errs, keyInputSchema+" must be a mapping")
		case len(inputMap) == 0:
			errs = append(errs, keyInputSchema+" must declare at least one parameter")
		}
	}

	if hasOutput {
		outputMap, ok := output.(map[string]any)
		switch {
		case !ok:
			errs = append(errs, keyOutputSchema+" must be a mapping")
		default:
			if _, ok := outputMap["type"]; !ok {
				errs = append(errs, keyOutputSchema+" must declare a type")
			}
		}
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

// ValidateMapping checks a typed mapping by its JSON form.
func ValidateMapping(m capability.Mapping) Result {
	data, err := json.Marshal(m)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("mapping is not serializable: %v", err)}}
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Result{Errors: []string{fmt.Sprintf("mapping is not a JSON object: %v", err)}}
	}
	return Validate(generic)
}

// CheckSample compiles the output schema and validates the sample response against it.
func CheckSample(outputSchema map[string]any, sample any) error {
	schemaData, err := json.Marshal(outputSchema)
	if err != nil {
		return fmt.Errorf("failed to encode output schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output_schema.json", bytes.NewReader(schemaData)); err != nil {
		return fmt.Errorf("failed to add output schema: %w", err)
	}
	schema, err := compiler.Compile("output_schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile output schema: %w", err)
	}

	sampleData, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample response: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(sampleData))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("failed to decode sample response: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("sample response does not match output schema: %w", err)
	}
	return nil
}
