package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/analyzer"
	"github.com/shaowenchen/mcp-tool-forge/pkg/forge"
	"github.com/shaowenchen/mcp-tool-forge/pkg/llm"
	"github.com/shaowenchen/mcp-tool-forge/pkg/mapper"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a capability from API documentation",
	Long: `Analyzes API documentation with a language model and writes a capability module
(tool.star, wrapper.star, metadata.json) into the tools directory, then records it in the registry.

The documentation source is a file path, "-" for stdin, or an http(s) URL.`,
	Example: `  mcp-tool-forge generate --name Weather --doc docs/weather.md
  mcp-tool-forge generate --name Flights --doc https://example.com/api --sample sample.json`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().String("name", "", "Capability name (letters, digits and underscores)")
	generateCmd.Flags().String("doc", "", "Documentation source: file, - for stdin, or http(s) URL")
	generateCmd.Flags().String("sample", "", "File with a sample API response (JSON)")
	generateCmd.Flags().String("field-map", "", "JSON file with target -> source field overrides")
	generateCmd.Flags().String("provider", "", "LLM provider (openai, anthropic, google, perplexity, mistral)")
	_ = generateCmd.MarkFlagRequired("name")
	_ = generateCmd.MarkFlagRequired("doc")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	cfg := loadConfig()
	if cfg.Metrics.Enabled {
		metrics.Init(logger)
	}

	name, _ := cmd.Flags().GetString("name")
	source, _ := cmd.Flags().GetString("doc")
	samplePath, _ := cmd.Flags().GetString("sample")
	fieldMapPath, _ := cmd.Flags().GetString("field-map")
	providerName, _ := cmd.Flags().GetString("provider")
	if providerName == "" {
		providerName = cfg.LLM.Provider
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := llm.NewRegistry(logger, llm.WithPreferred(providerName), llm.WithModels(cfg.LLM.Models))
	if err != nil {
		return err
	}
	provider, err := providers.Default()
	if err != nil {
		return err
	}
	an, err := analyzer.New(provider, logger)
	if err != nil {
		return err
	}

	doc, err := analyzer.NewDocumentLoader().Load(ctx, source)
	if err != nil {
		return err
	}

	req := forge.Request{
		Name:          name,
		Documentation: doc.Text,
		Source:        doc.Source,
	}
	if samplePath != "" {
		data, err := os.ReadFile(samplePath)
		if err != nil {
			return fmt.Errorf("failed to read sample response: %w", err)
		}
		req.SampleResponse = data
	}
	if fieldMapPath != "" {
		overrides, err := mapper.LoadOverrides(fieldMapPath)
		if err != nil {
			return err
		}
		req.FieldOverrides = overrides
	}

	logger.Info("Generating capability",
		zap.String("name", name),
		zap.String("source", doc.Source),
		zap.String("provider", provider.Name()))

	result, err := forge.New(an, registry.New(cfg.Tools.Directory), logger).Generate(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generated %s %s (%s)\n", result.Name, result.Metadata.Version, result.Metadata.APIInfo.APIType)
	for _, file := range result.Files {
		fmt.Fprintf(out, "  %s\n", file)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	return nil
}
