package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expenses/internal/amqp"
	"expenses/internal/cli"
	"expenses/internal/log"
	"expenses/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).WithComponent(log.ComponentWorker)
	logger.Info("Starting events-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.EventsEnabled() {
		logger.Error("AMQP_URL is required for the events worker")
		os.Exit(1)
	}

	ctx, stop := cli.ShutdownContext()
	defer stop()

	// The store enriches audit lines with the current state of each record.
	store := cli.InitStore(ctx, logger, cfg)
	defer store.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	auditWorker := worker.NewAuditWorker(store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Consuming domain events", "queue", cfg.AMQPQueue)
		return amqpClient.Run(gctx, auditWorker.HandleEvent)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.AuditSummaryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				auditWorker.LogSummary(context.Background())
				return nil
			case <-ticker.C:
				auditWorker.LogSummary(gctx)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
