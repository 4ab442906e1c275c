package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/tcp-collector/internal/config"
	"github.com/skypro1111/tcp-collector/internal/coordinator"
	"github.com/skypro1111/tcp-collector/internal/metrics"
)

const (
	serviceName    = "tcp-collector"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	flag.Parse()

	// Load configuration, falling back to built-in defaults
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.ListenAddr()),
		slog.Int("max_clients", cfg.Server.MaxClients),
		slog.Int("messages_per_client", cfg.Collector.MessagesPerClient),
		slog.String("framing", cfg.Server.Framing),
		slog.Int("wait_timeout_seconds", cfg.Collector.WaitTimeout),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics with runtime and process collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	// SIGINT/SIGTERM end the wait early; the partial report is still printed
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run the collection; setup failures are fatal
	coord := coordinator.New(cfg, logger, appMetrics, nil, os.Stdout)

	report, err := coord.Run(ctx)
	if err != nil {
		logger.Error("Collection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Log final outcome
	logger.Info("Service stopped",
		slog.String("reason", string(report.Reason)),
		slog.Int("collected", report.Count),
		slog.Int("target", report.Target),
	)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
