package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expenses/internal/auth"
	"expenses/internal/cli"
	apphttp "expenses/internal/http"
	"expenses/internal/log"
	"expenses/internal/services"
	"expenses/internal/validation"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	// Logger first: configuration errors are logged in the configured format.
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.ShutdownContext()
	defer stop()

	store := cli.InitStore(ctx, logger, cfg)
	defer store.Close()

	codec, err := auth.NewTokenCodec(cfg.SecretKey, cfg.TokenTTL)
	if err != nil {
		logger.Error("Failed to initialize token codec", "error", err)
		os.Exit(1)
	}
	v, err := validation.New()
	if err != nil {
		logger.Error("Failed to initialize validator", "error", err)
		os.Exit(1)
	}

	var opts []services.Option
	if publisher := cli.InitPublisher(logger, cfg); publisher != nil {
		defer publisher.Close()
		opts = append(opts, services.WithEvents(publisher))
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Accounts:    services.NewAccountService(store, auth.NewBcryptHasher(cfg.BcryptCost), codec, v, opts...),
		Expenses:    services.NewExpenseService(store, v, opts...),
		Resolver:    auth.NewIdentityResolver(codec, store, nil),
		Ready:       store.Ping,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	})

	// Configure server timeouts and limits
	srv.ReadHeaderTimeout = 5 * time.Second
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting expenses server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events", cfg.EventsEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(log.NewContext(shutdownCtx, logger))
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
