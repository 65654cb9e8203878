// Interflow service entry point.
//
// Usage:
//
//	interflow serve                       # start the server
//	interflow serve --config config.yaml  # with a config file
//	interflow version                     # show version information
//	interflow health                      # check a running server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/interflow/analysis"
	"github.com/BaSui01/interflow/api"
	"github.com/BaSui01/interflow/attach"
	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/config"
	"github.com/BaSui01/interflow/engine"
	"github.com/BaSui01/interflow/internal/metrics"
	"github.com/BaSui01/interflow/internal/server"
	"github.com/BaSui01/interflow/internal/telemetry"
	"github.com/BaSui01/interflow/pipeline"
	"github.com/BaSui01/interflow/run"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting interflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector("interflow", registry, logger)

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize run store", zap.Error(err))
	}

	attachments, err := attach.NewLocalStore(attach.LocalConfig{
		Dir:      cfg.Uploads.Dir,
		MaxBytes: cfg.Uploads.MaxBytes,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize attachment store", zap.Error(err))
	}

	executor, err := buildExecutor(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize executor", zap.Error(err))
	}

	graphs, err := pipeline.DefaultRegistry(pipeline.Deps{
		Provider:    buildProvider(cfg, logger),
		Executor:    executor,
		Attachments: attachments,
		Budget:      completion.NewBudget(cfg.Completion.ContextTokens),
		Model:       cfg.Completion.Model,
		Temperature: float32(cfg.Completion.Temperature),
	})
	if err != nil {
		logger.Fatal("failed to build workflows", zap.Error(err))
	}

	eng := engine.New(graphs, store, collector, logger)
	handler := api.NewHandler(eng, attachments, collector, logger)

	mgr := server.NewManager(handler.Routes(), registry, cfg.Server, logger)
	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	mgr.WaitForShutdown()

	if otelProviders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	logger.Info("interflow stopped")
}

func buildStore(cfg *config.Config, logger *zap.Logger) (run.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Info("using in-memory run store")
		return run.NewMemoryStore(), nil
	case "redis":
		return run.NewRedisStore(run.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			TTL:      cfg.Redis.TTL,
		}, logger)
	case "database":
		db, err := run.OpenDB(run.DBConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("database run store connected", zap.String("driver", cfg.Database.Driver))
		return run.NewDBStore(db, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func buildProvider(cfg *config.Config, logger *zap.Logger) completion.Provider {
	if cfg.Completion.Provider == "scripted" {
		logger.Warn("using scripted completion provider, responses echo the request")
		return completion.NewScriptedProvider(nil)
	}
	return completion.NewOpenAIProvider(completion.OpenAIConfig{
		ProviderName: cfg.Completion.Provider,
		APIKey:       cfg.Completion.APIKey,
		BaseURL:      cfg.Completion.BaseURL,
		DefaultModel: cfg.Completion.Model,
		Timeout:      cfg.Completion.Timeout,
	}, logger)
}

func buildExecutor(cfg *config.Config, logger *zap.Logger) (analysis.Executor, error) {
	switch cfg.Executor.Mode {
	case "scripted":
		logger.Warn("using scripted executor, analysis code is not actually run")
		return analysis.NewScriptedExecutor(logger), nil
	case "remote":
		return analysis.NewRemoteExecutor(analysis.RemoteConfig{
			Endpoint: cfg.Executor.Endpoint,
			Timeout:  cfg.Executor.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported executor mode: %s", cfg.Executor.Mode)
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("Interflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Interflow - interruptible generation pipeline service

Usage:
  interflow <command> [options]

Commands:
  serve     Start the interflow server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  interflow serve
  interflow serve --config /etc/interflow/config.yaml
  interflow health --addr http://localhost:8000`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
