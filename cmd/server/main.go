// Package main implements the entry point for the Fablecast API server,
// which orchestrates multi-stage script generation tasks and streams
// their progress to clients.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fablecast/fablecast-api/internal/api"
	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/config"
	"github.com/fablecast/fablecast-api/internal/events"
	"github.com/fablecast/fablecast-api/internal/platform/gemini"
	"github.com/fablecast/fablecast-api/internal/platform/logger"
	"github.com/fablecast/fablecast-api/internal/platform/postgres"
	"github.com/fablecast/fablecast-api/internal/platform/sqlite"
	"github.com/fablecast/fablecast-api/internal/scene"
	"github.com/fablecast/fablecast-api/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// run initializes every component and serves until a shutdown signal.
func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver)

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer closeStore()

	generator, err := gemini.NewGenerator(ctx, appLogger, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	bus := events.NewBusBuffered(appLogger, cfg.Task.EventBufferSize)
	manager := task.NewManager(store, bus, generator, task.ManagerConfig{
		StageRetries: cfg.Task.StageRetries,
		RetryDelay:   time.Duration(cfg.Task.RetryDelaySeconds) * time.Second,
	}, appLogger)

	router := api.NewRouter(manager, bus, scene.NewMarkerExtractor(), appLogger)

	return serve(cfg, appLogger, router, manager)
}

// openStore builds the checkpoint store selected by configuration and
// returns it with its close function.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (checkpoint.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains open
// streams and running pipelines.
func serve(cfg *config.Config, appLogger *slog.Logger, router http.Handler, manager *task.Manager) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			cancelServer()
		}
	}()

	select {
	case <-shutdownCh:
		appLogger.Info("shutting down server")
	case <-serverCtx.Done():
		appLogger.Info("server context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server shutdown failed", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Running pipelines checkpoint after every stage, so cancelling them
	// here loses at most the in-flight stage.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("task manager shutdown incomplete", "error", err)
	}

	appLogger.Info("server shutdown completed")
	return nil
}
