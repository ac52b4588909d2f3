// Package analyzer turns free-form API documentation into an analysis record
// using a language model.
package analyzer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
	"github.com/shaowenchen/mcp-tool-forge/pkg/llm"
)

// Defaults applied to fields the model leaves out.
const (
	DefaultAPIName     = "Unknown API"
	DefaultDescription = "Generated API tool"
	DefaultConfidence  = 0.95
)

//go:embed prompts.yaml
var promptsYAML []byte

var tracer = otel.Tracer("github.com/shaowenchen/mcp-tool-forge/pkg/analyzer")

// Prompt is a system message and a user template rendered with the documentation.
type Prompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type promptFile struct {
	APIAnalysis Prompt `yaml:"api_analysis"`
}

// Analyzer asks a provider to describe documentation as an AnalysisRecord.
type Analyzer struct {
	provider llm.Provider
	prompt   Prompt
	user     *template.Template
	schema   string
	logger   *zap.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithPrompt replaces the embedded prompt.
func WithPrompt(p Prompt) Option {
	return func(a *Analyzer) {
		a.prompt = p
	}
}

// New creates an analyzer over provider.
func New(provider llm.Provider, logger *zap.Logger, opts ...Option) (*Analyzer, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", llm.ErrNoProvider)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var prompts promptFile
	if err := yaml.Unmarshal(promptsYAML, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	schema, err := ResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to build response schema: %w", err)
	}

	a := &Analyzer{
		provider: provider,
		prompt:   prompts.APIAnalysis,
		schema:   schema,
		logger:   logger.Named("analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.user, err = template.New("user").Option("missingkey=error").Parse(a.prompt.User)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user prompt: %w", err)
	}
	return a, nil
}

// Provider returns the backend name recorded on every analysis.
func (a *Analyzer) Provider() string {
	return a.provider.Name()
}

// Analyze sends the documentation to the provider and standardizes the answer.
// Every failure wraps capability.ErrAnalysisFailure.
func (a *Analyzer) Analyze(ctx context.Context, documentation string) (*capability.AnalysisRecord, error) {
	ctx, span := tracer.Start(ctx, "analyzer.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", a.provider.Name()),
		attribute.Int("documentation.length", len(documentation)),
	)

	if strings.TrimSpace(documentation) == "" {
		return nil, fmt.Errorf("%w: documentation is empty", capability.ErrAnalysisFailure)
	}

	var user bytes.Buffer
	if err := a.user.Execute(&user, map[string]string{
		"Documentation": documentation,
		"Schema":        a.schema,
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to render prompt: %w", capability.ErrAnalysisFailure, err)
	}

	a.logger.Info("analyzing documentation",
		zap.String("provider", a.provider.Name()),
		zap.Int("length", len(documentation)))

	response, err := a.provider.Analyze(ctx, a.prompt.System, user.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capability.ErrAnalysisFailure, err)
	}

	record, err := Parse(response)
	if err != nil {
		a.logger.Debug("unparseable analysis response", zap.String("response", response))
		return nil, err
	}
	record.ProviderID = a.provider.Name()

	a.logger.Info("documentation analyzed",
		zap.String("api", record.APIName),
		zap.String("kind", string(record.Kind())),
		zap.Int("parameters", record.Parameters.Len()),
		zap.Float64("confidence", record.Confidence))
	return record, nil
}

// Parse extracts the JSON object spanning the first '{' to the last '}' of a model
// response and standardizes it.
func Parse(response string) (*capability.AnalysisRecord, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", capability.ErrAnalysisFailure)
	}
	data := []byte(response[start : end+1])

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON in response: %w", capability.ErrAnalysisFailure, err)
	}
	var record capability.AnalysisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: unexpected analysis shape: %w", capability.ErrAnalysisFailure, err)
	}
	if _, ok := fields["confidence"]; !ok {
		record.Confidence = DefaultConfidence
	}

	Standardize(&record)
	return &record, nil
}

// Standardize fills defaults and enforces that a parameter with a default is optional.
func Standardize(record *capability.AnalysisRecord) {
	if strings.TrimSpace(record.APIName) == "" {
		record.APIName = DefaultAPIName
	}
	if strings.TrimSpace(record.Description) == "" {
		record.Description = DefaultDescription
	}
	if record.Confidence < 0 {
		record.Confidence = 0
	}
	if record.Confidence > 1 {
		record.Confidence = 1
	}
	record.APIType = string(record.Kind())
	if record.Parameters == nil {
		record.Parameters = capability.NewParameterSchema()
	}
	for pair := record.Parameters.Oldest(); pair != nil; pair = pair.Next() {
		spec := pair.Value
		if spec.HasDefault() && spec.Required {
			spec.Required = false
			record.Parameters.Set(pair.Key, spec)
		}
	}
}
