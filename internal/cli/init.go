// Package cli provides common initialization for the expenses binaries.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"expenses/internal/amqp"
	"expenses/internal/config"
	"expenses/internal/log"
	"expenses/internal/storage"
)

// SetupLogger builds the process logger from LOG_LEVEL/LOG_FORMAT style
// values and installs it as the slog default. An unknown level falls back
// to info.
func SetupLogger(level, format string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	logger := log.New(log.Config{
		Level:     lvl,
		Format:    format,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info logging", "error", err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the configured backend and applies migrations.
func OpenStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	switch cfg.DataBackend {
	case config.BackendSQLite:
		return storage.OpenSQLite(ctx, cfg.SQLiteDBPath)
	case config.BackendPostgres:
		return storage.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported data backend %q", cfg.DataBackend)
	}
}

// InitStore is OpenStore for program start-up; it exits on failure.
func InitStore(ctx context.Context, logger *log.Logger, cfg *config.Config) *storage.Store {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return store
}

// InitPublisher connects the event publisher. It returns nil when events
// are disabled or the broker is unreachable; publishing is best effort
// and must not keep the API from starting.
func InitPublisher(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if !cfg.EventsEnabled() {
		logger.Info("Domain events disabled - no AMQP_URL provided")
		return nil
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, domain events disabled", "error", err)
		return nil
	}
	logger.Info("Domain events enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
