// Package main is the entry point for the Pylon gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mstrukov/pylon/internal/auth"
	"github.com/mstrukov/pylon/internal/cache"
	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/gateway"
	"github.com/mstrukov/pylon/internal/health"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/proxy"
	"github.com/mstrukov/pylon/internal/registry"
	"github.com/mstrukov/pylon/internal/router"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg, configPath := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	runGateway(app, configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("PYLON_CONFIG_PATH", ""),
		"Path to configuration file (default locations are searched when empty)")
	logLevel := flag.String("log-level", getEnvOrDefault("PYLON_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("PYLON_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("pylon version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadAndValidateConfig resolves the config path, then loads and validates
// the configuration. The resolved path is returned alongside the config so
// the watcher follows the same file.
func loadAndValidateConfig(explicit string, logger observability.Logger) (*config.Config, string) {
	path, err := config.ResolveConfigPath(explicit)
	if err != nil {
		logger.Fatal("failed to locate configuration", observability.Error(err))
	}

	logger.Info("starting pylon",
		observability.String("version", version),
		observability.String("config", path),
	)

	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.Int("services", len(cfg.Services)),
		observability.String("cache", cfg.Cache.Type),
		observability.Bool("auth", cfg.Auth.Enabled),
		observability.Bool("cors", cfg.CORS.Enabled),
	)

	return cfg, path
}

// application holds all application components.
type application struct {
	gateway       *gateway.Gateway
	registry      *registry.Registry
	checker       *registry.Checker
	breakers      *circuitbreaker.Registry
	cache         cache.Cache
	healthChecker *health.Checker
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	config        *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	metrics := observability.NewMetrics("pylon")
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	tracer := initTracer(cfg, logger)

	reg := registry.NewRegistry(logger)
	reg.Apply(cfg.Services)
	checker := registry.NewChecker(reg, cfg.Registry,
		registry.WithCheckerLogger(logger),
		registry.WithStatusCallback(func(service string, healthy bool) {
			metrics.SetServiceHealth(service, healthy)
		}),
	)

	breakerCfg := circuitbreaker.FromConfig(cfg.Breaker)
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		metrics.SetCircuitState(name, int(to))
	}
	breakers := circuitbreaker.NewRegistry(breakerCfg, logger)

	var store cache.Cache
	if cfg.Cache.Type != config.CacheTypeDisabled {
		var err error
		store, err = cache.New(cfg.Cache, logger,
			cache.WithEvictionHook(metrics.RecordCacheEviction))
		if err != nil {
			logger.Fatal("failed to initialize cache", observability.Error(err))
		}
	}

	rt, err := router.New(cfg.Services, logger)
	if err != nil {
		logger.Fatal("failed to build route table", observability.Error(err))
	}

	pipeline, err := gateway.NewPipeline(gateway.PipelineConfig{
		Config:    cfg,
		Router:    rt,
		Registry:  reg,
		Breakers:  breakers,
		Forwarder: proxy.New(logger),
		Cache:     store,
		AuthGate:  auth.NewGate(cfg.Auth, logger),
		Metrics:   metrics,
		Tracer:    tracer,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to assemble pipeline", observability.Error(err))
	}

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithVersion(version),
		gateway.WithPipeline(pipeline),
		gateway.WithRouter(rt),
		gateway.WithRegistry(reg),
		gateway.WithBreakers(breakers),
		gateway.WithCache(store),
		gateway.WithMetrics(metrics),
	)
	if err != nil {
		logger.Fatal("failed to create gateway", observability.Error(err))
	}

	healthChecker := health.NewChecker(version)
	healthChecker.RegisterCheck("upstreams", health.UpstreamsCheck(reg))
	healthChecker.RegisterCheck("cache", health.CacheCheck(store))
	healthChecker.RegisterCheck("circuits", health.CircuitsCheck(breakers))

	return &application{
		gateway:       gw,
		registry:      reg,
		checker:       checker,
		breakers:      breakers,
		cache:         store,
		healthChecker: healthChecker,
		metrics:       metrics,
		tracer:        tracer,
		config:        cfg,
	}
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracerCfg := observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SampleRatio:  cfg.Tracing.SampleRatio,
		Enabled:      cfg.Tracing.Enabled,
	}
	if tracerCfg.ServiceName == "" {
		tracerCfg.ServiceName = "pylon"
	}

	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}
	return tracer
}

// runGateway runs the gateway and handles shutdown.
func runGateway(app *application, configPath string, logger observability.Logger) {
	ctx := context.Background()

	app.checker.Start(ctx)

	if err := app.gateway.Start(ctx); err != nil {
		logger.Fatal("failed to start gateway", observability.Error(err))
	}

	startMetricsServerIfEnabled(app, logger)
	watcher := startConfigWatcher(app, configPath, logger)

	waitForShutdown(app, watcher, logger)
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	if !app.config.Metrics.Enabled {
		return
	}

	port := app.config.Metrics.Port
	if port == 0 {
		port = 9090
	}
	addr := fmt.Sprintf("%s:%d", app.config.Metrics.Address, port)

	go func() {
		server := newMetricsServer(addr, app.metrics, app.healthChecker)
		logger.Info("starting metrics server", observability.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", observability.Error(err))
		}
	}()
}

// newMetricsServer builds the server exposing Prometheus metrics and the
// health endpoints.
func newMetricsServer(addr string, metrics *observability.Metrics, healthChecker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	healthChecker.Mount(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// startConfigWatcher starts the configuration watcher.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, reloading")
		if reloadErr := app.gateway.Reload(newCfg); reloadErr != nil {
			logger.Error("failed to reload configuration", observability.Error(reloadErr))
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}

// waitForShutdown waits for a shutdown signal and performs graceful shutdown.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		watcher.Stop()
	}

	if err := app.gateway.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}

	app.checker.Stop()

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			logger.Error("failed to close cache", observability.Error(err))
		}
	}

	app.breakers.ResetAll()
	app.registry.DeregisterAll()

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gateway stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
