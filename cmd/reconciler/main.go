package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/reconcile"
	"github.com/robertarktes/event-ticketing/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "event-ticketing-reconciler")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	backend, err := storage.Open(startCtx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := reconcile.New(backend.Store, logger)
	if _, err := worker.Check(ctx); err != nil {
		logger.WithError(err).Error("initial reconciliation failed")
	}

	logger.WithField("interval", cfg.ReconcileInterval.String()).Info("reconciler started")
	worker.Run(ctx, cfg.ReconcileInterval)
	logger.Info("Shutdown reconciler")
}
