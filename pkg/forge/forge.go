// Package forge runs the capability synthesis pipeline: documentation in, a
// registered capability module on disk out.
package forge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
	"github.com/shaowenchen/mcp-tool-forge/pkg/mapper"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
	"github.com/shaowenchen/mcp-tool-forge/pkg/normalizer"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
	"github.com/shaowenchen/mcp-tool-forge/pkg/synth"
	"github.com/shaowenchen/mcp-tool-forge/pkg/validator"
)

// InitialVersion is the metadata version of a newly generated capability.
const InitialVersion = "1.0.0"

// Pipeline stage names used for metrics and spans.
const (
	StageAnalyze    = "analyze"
	StageNormalize  = "normalize"
	StageMap        = "map"
	StageValidate   = "validate"
	StageSynthesize = "synthesize"
	StageWrite      = "write"
	StageRegister   = "register"
)

// ErrInvalidName is returned for names that cannot become a capability directory.
var ErrInvalidName = errors.New("invalid capability name")

var (
	namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	tracer      = otel.Tracer("github.com/shaowenchen/mcp-tool-forge/pkg/forge")
)

// Analyzer produces an analysis record from documentation, e.g. *analyzer.Analyzer.
type Analyzer interface {
	Analyze(ctx context.Context, documentation string) (*capability.AnalysisRecord, error)
}

// Request describes one capability to generate.
type Request struct {
	Name           string
	Documentation  string
	Source         string
	SampleResponse any
	FieldOverrides map[string]string
}

// Result reports what a successful run wrote.
type Result struct {
	Name      string
	Directory string
	Files     []string
	Metadata  capability.Metadata
	Mapping   capability.Mapping
	Warnings  []string
}

// Forge owns the pipeline collaborators.
type Forge struct {
	analyzer    Analyzer
	registry    *registry.Registry
	normalizer  *normalizer.Normalizer
	synthesizer *synth.Synthesizer
	logger      *zap.Logger
	clock       func() time.Time
	filePerm    os.FileMode
}

// Option configures a Forge.
type Option func(*Forge)

// WithNormalizer replaces the default normalizer, e.g. one with registered plugins.
func WithNormalizer(n *normalizer.Normalizer) Option {
	return func(f *Forge) {
		f.normalizer = n
	}
}

// WithClock overrides the time source for generated_at.
func WithClock(clock func() time.Time) Option {
	return func(f *Forge) {
		f.clock = clock
	}
}

// New creates a pipeline writing into reg's tools directory.
func New(analyzer Analyzer, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Forge {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Forge{
		analyzer:    analyzer,
		registry:    reg,
		normalizer:  normalizer.New(),
		synthesizer: synth.New(),
		logger:      logger.Named("forge"),
		clock:       time.Now,
		filePerm:    0o644,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Generate analyzes the documentation, synthesizes the capability module, writes its
// files and records it in the registry. The registry is only updated after every file
// is written, so a failed run never leaves a registered capability without files.
func (f *Forge) Generate(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "forge.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("capability", req.Name))

	kind := "unknown"
	defer func() {
		metrics.RecordSynthesis(kind, err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			f.logger.Error("capability generation failed", zap.String("name", req.Name), zap.Error(err))
		}
	}()

	if !namePattern.MatchString(req.Name) {
		return nil, fmt.Errorf("%w %q: must match %s", ErrInvalidName, req.Name, namePattern)
	}
	version, err := f.nextVersion(req.Name)
	if err != nil {
		return nil, err
	}

	var record *capability.AnalysisRecord
	if err := f.stage(ctx, StageAnalyze, func(ctx context.Context) error {
		var err error
		record, err = f.analyzer.Analyze(ctx, req.Documentation)
		return err
	}); err != nil {
		return nil, err
	}
	kind = string(record.Kind())

	var normalized map[string]any
	if err := f.stage(ctx, StageNormalize, func(context.Context) error {
		var err error
		normalized, err = f.normalizer.Normalize(SampleResponse(req.SampleResponse, record))
		if err != nil {
			return fmt.Errorf("%w: failed to normalize sample response: %w", capability.ErrSchemaValidation, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var mapping capability.Mapping
	if err := f.stage(ctx, StageMap, func(context.Context) error {
		mapping = mapper.New(mapper.WithOverrides(req.FieldOverrides)).Map(normalized, record)
		return nil
	}); err != nil {
		return nil, err
	}

	result = &Result{
		Name:      req.Name,
		Directory: capability.DirectoryName(req.Name),
		Mapping:   mapping,
	}

	if err := f.stage(ctx, StageValidate, func(context.Context) error {
		if err := validator.ValidateMapping(mapping).Err(); err != nil {
			return err
		}
		if err := validator.CheckSample(mapping.OutputSchema, normalized); err != nil {
			result.Warnings = append(result.Warnings, err.Error())
			f.logger.Warn("sample response does not match inferred output schema",
				zap.String("name", req.Name), zap.Error(err))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var tool, accessor string
	if err := f.stage(ctx, StageSynthesize, func(context.Context) error {
		var err error
		if tool, err = f.synthesizer.Synthesize(req.Name, record.Description, mapping.InputSchema, normalized, record); err != nil {
			return fmt.Errorf("%w: %w", capability.ErrSynthesisWrite, err)
		}
		if accessor, err = f.synthesizer.SynthesizeAccessor(req.Name); err != nil {
			return fmt.Errorf("%w: %w", capability.ErrSynthesisWrite, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	result.Metadata = f.metadata(req, record, mapping, version)
	dir := filepath.Join(f.registry.Dir(), result.Directory)

	if err := f.stage(ctx, StageWrite, func(context.Context) error {
		files, err := f.writeFiles(dir, tool, accessor, result.Metadata)
		result.Files = files
		return err
	}); err != nil {
		return nil, err
	}

	if err := f.stage(ctx, StageRegister, func(context.Context) error {
		if err := f.registry.Record(req.Name, result.Directory, result.Metadata); err != nil {
			return fmt.Errorf("%w: %w", capability.ErrSynthesisWrite, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	f.logger.Info("capability generated",
		zap.String("name", req.Name),
		zap.String("kind", kind),
		zap.String("version", version),
		zap.String("directory", dir),
		zap.Float64("confidence", record.Confidence),
		zap.String("provider", record.ProviderID))
	return result, nil
}

// stage runs fn under its own span. A cancelled context stops the pipeline before the stage starts.
func (f *Forge) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "forge."+name)
	defer span.End()

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn(ctx)
	}
	metrics.RecordSynthesisStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Warn("stage failed", zap.String("stage", name), zap.Error(err))
		return err
	}
	f.logger.Debug("stage completed", zap.String("stage", name), zap.Duration("duration", time.Since(start)))
	return nil
}

// nextVersion bumps the patch version of an existing registration. A corrupt
// registry stops the run before any file is touched.
func (f *Forge) nextVersion(name string) (string, error) {
	entry, ok, err := f.registry.Get(name)
	switch {
	case errors.Is(err, registry.ErrRegistryMissing):
		return InitialVersion, nil
	case err != nil:
		return "", fmt.Errorf("%w: %w", capability.ErrSynthesisWrite, err)
	case !ok:
		return InitialVersion, nil
	}

	current, err := semver.NewVersion(entry.Metadata.Version)
	if err != nil {
		f.logger.Warn("registered version is not semver, starting over",
			zap.String("name", name), zap.String("version", entry.Metadata.Version))
		return InitialVersion, nil
	}
	return current.IncPatch().String(), nil
}

func (f *Forge) metadata(req Request, record *capability.AnalysisRecord, mapping capability.Mapping, version string) capability.Metadata {
	return capability.Metadata{
		Name:        req.Name,
		Description: record.Description,
		Version:     version,
		APIInfo: capability.APIInfo{
			APIName:        record.APIName,
			BaseURL:        record.BaseURL,
			APIType:        record.APIType,
			Authentication: record.Authentication,
			ResponseFormat: record.ResponseFormat,
			Endpoints:      record.Endpoints,
		},
		ParsingInfo: capability.ParsingInfo{
			Method:      "llm",
			Confidence:  record.Confidence,
			LLMProvider: record.ProviderID,
			LLMEnhanced: true,
		},
		GeneratedAt: f.clock().UTC().Format(time.RFC3339),
		Files: capability.FileSet{
			Tool:     synth.ToolFile,
			Wrapper:  synth.WrapperFile,
			Metadata: synth.MetadataFile,
		},
		MCPSchema: &mapping,
		InputSources: capability.InputSources{
			DocumentationProvided: req.Documentation != "",
			DocumentationLength:   len(req.Documentation),
			Source:                req.Source,
		},
	}
}
