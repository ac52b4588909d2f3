package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/cmd/version"
	"github.com/shaowenchen/mcp-tool-forge/pkg/config"
	"github.com/shaowenchen/mcp-tool-forge/pkg/dispatch"
	"github.com/shaowenchen/mcp-tool-forge/pkg/loader"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
	capabilitiesModule "github.com/shaowenchen/mcp-tool-forge/pkg/modules/capabilities"
	"github.com/shaowenchen/mcp-tool-forge/pkg/registry"
)

const serviceName = "mcp-tool-forge"

var (
	cfgFile string
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "MCP Tool Forge - generate MCP tools from API documentation and serve them",
	Long: `Generates capability modules from free-form API documentation and serves every
registered capability over MCP (line-delimited JSON-RPC on stdio, or streamable HTTP).`,
	Run: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("tools-dir", "generated_tools", "Directory holding generated tools and the registry")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "Server host")
	rootCmd.Flags().Int("port", 3000, "Server port")
	rootCmd.Flags().String("mode", "stdio", "Server mode: stdio or sse")
	rootCmd.Flags().Duration("call-timeout", 0, "Per-call timeout for tool runs (0 disables)")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("tools.directory", rootCmd.PersistentFlags().Lookup("tools-dir"))
	viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.mode", rootCmd.Flags().Lookup("mode"))
	viper.BindPFlag("server.callTimeout", rootCmd.Flags().Lookup("call-timeout"))

	rootCmd.AddCommand(generateCmd, toolsCmd, versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	// zap writes to stderr, so stdout stays reserved for the protocol stream
	var err error
	logLevel := viper.GetString("log.level")
	switch logLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}

func loadConfig() *config.Config {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Fatal("Failed to unmarshal config", zap.Error(err))
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "stdio"
	}
	return &cfg
}

// runtime is the serving side: registry -> loader -> dispatcher
type runtime struct {
	registry   *registry.Registry
	loader     *loader.Loader
	dispatcher *dispatch.Dispatcher
}

func newRuntime(cfg *config.Config) *runtime {
	reg := registry.New(cfg.Tools.Directory)

	var loaderOpts []loader.Option
	if cfg.Tools.MaxSteps > 0 {
		loaderOpts = append(loaderOpts, loader.WithMaxSteps(cfg.Tools.MaxSteps))
	}
	if cfg.Tools.HTTPTimeout > 0 {
		loaderOpts = append(loaderOpts, loader.WithHTTPClient(loader.NewHTTPClient(cfg.Tools.HTTPTimeout)))
	}
	ld := loader.New(reg, logger, loaderOpts...)

	d := dispatch.New(ld, logger,
		dispatch.WithCallTimeout(cfg.Server.CallTimeout),
		dispatch.WithServerInfo(serviceName, version.BuildVersion),
	)
	return &runtime{registry: reg, loader: ld, dispatcher: d}
}

func runServer(cmd *cobra.Command, args []string) {
	defer logger.Sync()

	cfg := loadConfig()

	logger.Info("Starting MCP Tool Forge",
		zap.String("version", version.Short()),
		zap.String("mode", cfg.Server.Mode),
		zap.String("tools_directory", cfg.Tools.Directory),
		zap.Duration("call_timeout", cfg.Server.CallTimeout),
	)

	if cfg.Metrics.Enabled {
		metrics.Init(logger)
		metrics.SetBuildInfo(version.Labels())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := newRuntime(cfg)
	toolCount := rt.dispatcher.Refresh(ctx, true)
	if toolCount == 0 {
		logger.Warn("No capabilities found, server will have no tools available",
			zap.String("registry", rt.registry.Path()))
	} else {
		logger.Info("Server initialized", zap.Int("total_tools", toolCount))
	}

	switch cfg.Server.Mode {
	case "stdio":
		watchReload(ctx, rt.dispatcher, nil)
		serveStdio(ctx, rt.dispatcher)
	case "sse":
		serveHTTP(ctx, cfg, rt)
	default:
		logger.Fatal("Invalid server mode", zap.String("mode", cfg.Server.Mode), zap.Strings("valid_modes", []string{"stdio", "sse"}))
	}
}

// watchReload performs a full capability reload on SIGHUP
func watchReload(ctx context.Context, d *dispatch.Dispatcher, onReload func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				n := d.Refresh(ctx, true)
				logger.Info("Capabilities reloaded", zap.Int("total_tools", n))
				if onReload != nil {
					onReload()
				}
			}
		}
	}()
}

func serveStdio(ctx context.Context, d *dispatch.Dispatcher) {
	logger.Info("Starting server in stdio mode")

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("Stdio server failed", zap.Error(err))
		}
		logger.Info("Input closed, stopping")
	case <-ctx.Done():
		logger.Info("Shutting down")
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, rt *runtime) {
	if cfg.Metrics.Enabled {
		metrics.StartSystemMetricsCollector(ctx, logger)
	}

	mcpServer := server.NewMCPServer(serviceName, version.BuildVersion, server.WithToolCapabilities(true))

	module, err := capabilitiesModule.New(&capabilitiesModule.Config{
		Tools: capabilitiesModule.ToolsConfig{
			Prefix: cfg.Tools.Prefix,
			Suffix: cfg.Tools.Suffix,
		},
	}, rt.dispatcher, rt.registry, logger)
	if err != nil {
		logger.Fatal("Failed to create capabilities module", zap.Error(err))
	}
	tools := module.GetTools()
	mcpServer.SetTools(tools...)
	if m := metrics.Get(); m != nil {
		m.SetModuleEnabled("capabilities", true)
	}
	logger.Info("Capabilities module enabled", zap.Int("tools", len(tools)))

	watchReload(ctx, rt.dispatcher, func() {
		mcpServer.SetTools(module.GetTools()...)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           newHTTPHandler(cfg, server.NewStreamableHTTPServer(mcpServer), module),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server in SSE mode", zap.String("address", addr), zap.String("uri", cfg.Server.URI))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("SSE server failed to start", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
