package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebook/clinic-ledger/internal/api"
	"github.com/carebook/clinic-ledger/internal/directory"
	"github.com/carebook/clinic-ledger/internal/index"
	"github.com/carebook/clinic-ledger/internal/ledger"
	"github.com/carebook/clinic-ledger/internal/prescription"
	"github.com/carebook/clinic-ledger/internal/workflow"
	"github.com/carebook/clinic-ledger/pkg/config"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/monitoring"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)

	// Initialize the ledger store and restore the last snapshot
	store := ledger.NewStore(logger)
	if err := store.LoadSnapshot(cfg.Storage.SnapshotPath); err != nil {
		logger.Fatalf("Failed to load ledger snapshot: %v", err)
	}

	// Initialize attachment storage
	blobs, err := prescription.NewFileBlobStore(cfg.Storage.BlobDir)
	if err != nil {
		logger.Fatalf("Failed to initialize blob storage: %v", err)
	}

	// Wire core services
	dir := directory.New(store, logger)
	idx := index.New(store, dir, logger)
	notifier := workflow.NewAppointmentNotificationManager(
		workflow.NewLogNotificationService(logger), dir, logger)
	engine := workflow.New(store, idx, notifier, cfg.Workflow.AllowRebook, logger)
	prescriptions := prescription.New(store, blobs, logger)

	health := monitoring.NewHealthManager("clinic-ledger")
	health.Register(monitoring.HealthCheckerFunc(func(ctx context.Context) monitoring.HealthCheck {
		return store.HealthCheck(ctx)
	}))

	server := api.NewServer(cfg, engine, idx, prescriptions, dir, health, logger)

	// Start the API server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatalf("Failed to start API server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down clinic ledger...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}

	if err := store.SaveSnapshot(cfg.Storage.SnapshotPath); err != nil {
		logger.Errorf("Failed to save ledger snapshot: %v", err)
	}
	logger.Info("Clinic ledger stopped")
}
