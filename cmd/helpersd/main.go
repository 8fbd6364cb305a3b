// Command helpersd runs one storage backend behind the HTTP health/status
// surface in pkg/api, the way the original per-backend helper binaries each
// bound one mount point and answered to a frontend over stdio — here the
// frontend is whatever polls the HTTP API instead.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/jakub-valenta/helpers/internal/config"
	"github.com/jakub-valenta/helpers/pkg/api"
	"github.com/jakub-valenta/helpers/pkg/factory"
	"github.com/jakub-valenta/helpers/pkg/health"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
	"github.com/jakub-valenta/helpers/pkg/profiling"
	"github.com/jakub-valenta/helpers/pkg/recovery"
	"github.com/jakub-valenta/helpers/pkg/status"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "helpersd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configFile string
	var showVersion bool

	flagSet := pflag.NewFlagSet("helpersd", pflag.ContinueOnError)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to a YAML configuration file (defaults used when absent)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Println("helpersd (dev build)")
		return nil
	}

	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("applying env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(observability.Config{
		Format: logFormat(cfg.Global.LogFormat),
		Level:  logLevel(cfg.Global.LogLevel),
		Output: os.Stderr,
	}, "helpersd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics observability.MetricsSink = observability.NopMetrics{}
	var metricsHandler http.Handler
	if cfg.Monitoring.Metrics.Enabled {
		promMetrics := observability.NewPrometheusMetrics(cfg.Monitoring.Metrics.Namespace)
		metrics = promMetrics
		metricsHandler = promMetrics.Handler()
	}

	backend, err := factory.New(ctx, cfg.Backend.Name, cfg.Params(), cfg.Backend.Buffered, logger, metrics)
	if err != nil {
		return fmt.Errorf("constructing backend %q: %w", cfg.Backend.Name, err)
	}
	if closer, ok := backend.(interface{ Close() }); ok {
		defer closer.Close()
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent(backend.Name())

	statusTracker := status.NewTracker(status.TrackerConfig{
		MaxHistorySize: 1000,
		HealthTracker:  healthTracker,
	})

	recoveryConfig := recovery.DefaultRecoveryConfig()
	recoveryConfig.Logger = logger
	recoveryConfig.StatusTracker = statusTracker
	recoveryManager := recovery.NewRecoveryManager(recoveryConfig)

	if cfg.Monitoring.HealthChecks.Enabled {
		healthCtx, cancelHealth := context.WithCancel(ctx)
		defer cancelHealth()
		go healthTracker.StartHealthChecks(healthCtx, func(component string) error {
			return recoveryManager.Execute(healthCtx, component, "health-probe", func() error {
				probeCtx, cancel := context.WithTimeout(healthCtx, cfg.Monitoring.HealthChecks.Timeout)
				defer cancel()
				_, err := backend.Getattr(helper.FileID(".")).Get(probeCtx)
				return err
			})
		})
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = fmt.Sprintf(":%d", cfg.Global.MetricsPort)
	serverConfig.EnableMetrics = cfg.Monitoring.Metrics.Enabled
	server := api.NewServer(serverConfig, statusTracker, healthTracker, logger, metricsHandler)
	server.StartBackground()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown failed", "error", err)
		}
	}()

	// HealthPort has no separate health listener to bind to anymore (pkg/api
	// already serves /health on MetricsPort); it parameterizes the pprof
	// server instead.
	if cfg.Global.HealthPort != 0 {
		monitorConfig := profiling.DefaultMonitorConfig()
		monitorConfig.Port = cfg.Global.HealthPort
		monitor := profiling.NewMemoryMonitor(monitorConfig, profiling.DefaultAlertThresholds(), logger)
		if err := monitor.Start(ctx); err != nil {
			return fmt.Errorf("starting memory monitor: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := monitor.Stop(stopCtx); err != nil {
				logger.Error("memory monitor shutdown failed", "error", err)
			}
		}()
	}

	logger.Info("helpersd started",
		"backend", cfg.Backend.Name,
		"buffered", cfg.Backend.Buffered,
		"api_address", serverConfig.Address,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func logFormat(s string) observability.Format {
	if s == "json" {
		return observability.FormatJSON
	}
	return observability.FormatText
}

func logLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
