package synth

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"go.starlark.net/syntax"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

// File names inside a capability directory.
const (
	ToolFile     = "tool.star"
	WrapperFile  = "wrapper.star"
	MetadataFile = "metadata.json"
)

const (
	templateREST     = "rest.star.tmpl"
	templatePackage  = "package.star.tmpl"
	templateAccessor = "accessor.star.tmpl"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Synthesizer renders capability modules from validated schemas.
type Synthesizer struct {
	templates *template.Template
}

// New parses the embedded templates.
func New() *Synthesizer {
	return &Synthesizer{
		templates: template.Must(template.ParseFS(templateFS, "templates/*.tmpl")),
	}
}

// moduleData feeds the rest and package templates.
type moduleData struct {
	Name               string
	CommentDescription string
	NameLiteral        string
	DescriptionLiteral string
	ClassIdent         string
	Prefix             string
	Schema             string
	Signature          string
	Extraction         string
	CallArgs           string
	Validation         string
	SampleComment      string

	// rest
	APIName string
	BaseURL string
	Path    string
	Method  string
	Query   string
	Auth    string

	// package
	PackageName    string
	PackageComment string
	CallName       string
	FunctionIdent  string
	Construction   string
	CallKwargs     string
	Transform      string
}

type accessorData struct {
	Name              string
	NameLiteral       string
	ClassIdent        string
	ClassIdentLiteral string
	Lower             string
	ToolFile          string
	ToolFileLiteral   string
}

// Synthesize renders the module source for a capability. Identical inputs always
// produce identical output.
func (s *Synthesizer) Synthesize(name, description string, input *capability.ParameterSchema, sample any, record *capability.AnalysisRecord) (string, error) {
	if record == nil {
		record = &capability.AnalysisRecord{}
	}
	params := newParams(input)

	schema, err := schemaLiteral(input)
	if err != nil {
		return "", fmt.Errorf("failed to render parameters schema: %w", err)
	}
	sampleComment, err := sampleResponseComment(sample)
	if err != nil {
		return "", fmt.Errorf("failed to render sample response: %w", err)
	}

	classIdent := capability.ClassIdent(name)
	data := moduleData{
		Name:               name,
		CommentDescription: commentText(description),
		NameLiteral:        quote(name),
		DescriptionLiteral: quote(description),
		ClassIdent:         classIdent,
		Prefix:             "_" + strings.ToLower(classIdent),
		Schema:             schema,
		Signature:          signature(params),
		Extraction:         extraction(params),
		CallArgs:           callArgs(params),
		Validation:         validation(params),
		SampleComment:      sampleComment,
	}

	var tmpl string
	switch record.Kind() {
	case capability.APIKindPackage:
		tmpl = templatePackage
		fillPackage(&data, params, record)
	default:
		tmpl = templateREST
		fillREST(&data, params, record)
	}

	return s.render(tmpl, data)
}

// SynthesizeAccessor renders the accessor module exposing run_<name>(**kwargs).
func (s *Synthesizer) SynthesizeAccessor(name string) (string, error) {
	classIdent := capability.ClassIdent(name)
	return s.render(templateAccessor, accessorData{
		Name:              name,
		NameLiteral:       quote(name),
		ClassIdent:        classIdent,
		ClassIdentLiteral: quote(classIdent),
		Lower:             strings.ToLower(classIdent),
		ToolFile:          ToolFile,
		ToolFileLiteral:   quote(ToolFile),
	})
}

// AccessorFunc returns the accessor function name for a capability.
func AccessorFunc(name string) string {
	return "run_" + strings.ToLower(capability.ClassIdent(name))
}

func (s *Synthesizer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

func fillREST(data *moduleData, params []param, record *capability.AnalysisRecord) {
	endpoint := capability.Endpoint{Path: "/", Method: "GET"}
	if len(record.Endpoints) > 0 {
		endpoint = record.Endpoints[0]
	}
	method := strings.ToUpper(endpoint.Method)
	if method == "" {
		method = "GET"
	}
	path := endpoint.Path
	if path == "" {
		path = "/"
	}
	baseURL := record.BaseURL
	if baseURL == "" {
		baseURL = "https://api.example.com"
	}
	apiName := record.APIName
	if apiName == "" {
		apiName = "API"
	}

	data.APIName = quote(apiName)
	data.BaseURL = quote(strings.TrimRight(baseURL, "/"))
	data.Path = quote(path)
	data.Method = quote(method)

	auth := resolveAuth(params, record.Authentication)
	data.Query = queryParams(params, auth)
	data.Auth = authFragment(auth)
}

func fillPackage(data *moduleData, params []param, record *capability.AnalysisRecord) {
	pkgName := record.PackageName
	if pkgName == "" {
		pkgName = "unknown_package"
	}
	function := "main_function"
	if record.MainFunction != nil && record.MainFunction.Name != "" {
		function = record.MainFunction.Name
	}
	fnIdent := sanitize(function)

	data.PackageName = quote(pkgName)
	data.PackageComment = commentText(pkgName)
	data.CallName = "call_" + strings.ToLower(fnIdent)
	data.FunctionIdent = fnIdent
	data.Construction, data.CallKwargs = construction(params)
	data.Transform = transform(record.ResponseFormat)
}

// sampleResponseComment renders the sample response as a trailing comment block.
func sampleResponseComment(sample any) (string, error) {
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", err
	}
	lines := []string{"# Sample response structure based on API analysis:"}
	for _, line := range strings.Split(string(data), "\n") {
		lines = append(lines, "# "+line)
	}
	return strings.Join(lines, "\n"), nil
}

func quote(s string) string {
	return syntax.Quote(s, false)
}

func commentText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
