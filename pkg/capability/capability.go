package capability

import (
	"context"
	"strings"
	"unicode"
)

// Capability is the structural contract every served tool satisfies. Synthesized
// scripts and plain Go values are interchangeable as long as they expose these members.
type Capability interface {
	Name() string
	Description() string
	ParametersSchema() *ParameterSchema
	// Run executes the capability. Failures wrap ErrExecution.
	Run(ctx context.Context, params map[string]any) (any, error)
	Validate(params map[string]any) bool
}

// APIInfo is the api section of capability metadata.
type APIInfo struct {
	APIName        string          `json:"api_name"`
	BaseURL        string          `json:"base_url,omitempty"`
	APIType        string          `json:"api_type,omitempty"`
	Authentication *Authentication `json:"authentication,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Endpoints      []Endpoint      `json:"endpoints,omitempty"`
}

// ParsingInfo records how the analysis record was produced.
type ParsingInfo struct {
	Method      string  `json:"method"`
	Confidence  float64 `json:"confidence_score"`
	LLMProvider string  `json:"llm_provider"`
	LLMEnhanced bool    `json:"llm_enhanced"`
}

// FileSet lists the files written for one capability, relative to its directory.
type FileSet struct {
	Tool     string `json:"tool"`
	Wrapper  string `json:"wrapper"`
	Metadata string `json:"metadata"`
}

// InputSources records what the pipeline was given.
type InputSources struct {
	DocumentationProvided bool   `json:"api_documentation_provided"`
	DocumentationLength   int    `json:"documentation_length"`
	Source                string `json:"source,omitempty"`
}

// Metadata is persisted next to each capability and inside the registry.
type Metadata struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Version      string       `json:"version"`
	APIInfo      APIInfo      `json:"api_info"`
	ParsingInfo  ParsingInfo  `json:"parsing_info"`
	GeneratedAt  string       `json:"generated_at"`
	Files        FileSet      `json:"files"`
	MCPSchema    *Mapping     `json:"mcp_schema,omitempty"`
	InputSources InputSources `json:"input_sources"`
}

// ClassIdent returns the constructor identifier used for a capability name in
// synthesized modules: non-identifier runes become '_' and the first letter is upper case.
func ClassIdent(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			if i == 0 {
				b.WriteString("C")
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	ident := b.String()
	if ident == "" {
		return "Capability"
	}
	runes := []rune(ident)
	if runes[0] == '_' {
		return "C" + ident
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// DirectoryName returns the on-disk directory for a capability name.
func DirectoryName(name string) string {
	return strings.ToLower(name)
}
