// Tidepoint - Tourism marketplace with business loyalty.
// Copyright (c) 2025 Tidepoint
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidepoint/marketplace/internal/api"
	"github.com/tidepoint/marketplace/internal/bus"
	"github.com/tidepoint/marketplace/internal/cache"
	"github.com/tidepoint/marketplace/internal/config"
	"github.com/tidepoint/marketplace/internal/domain"
	"github.com/tidepoint/marketplace/internal/entity"
	"github.com/tidepoint/marketplace/internal/loyalty"
	"github.com/tidepoint/marketplace/internal/permission"
	"github.com/tidepoint/marketplace/internal/repository"
	"github.com/tidepoint/marketplace/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	handlerOpts := &slog.HandlerOptions{Level: config.LogLevel(cfg.Logging.Level)}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting tidepoint",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"storage", cfg.Storage.Type,
		"eventbus", cfg.EventBus.Type,
		"worker", cfg.Worker.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize durable cache storage
	storage, err := cache.NewStorage(cfg.Storage, repo)
	if err != nil {
		slog.Error("failed to initialize cache storage", "error", err)
		os.Exit(1)
	}
	if closer, ok := storage.(io.Closer); ok && cfg.Storage.Type != "sql" {
		defer closer.Close()
	}
	slog.Info("cache storage initialized", "type", cfg.Storage.Type)

	entityCache := cache.New(storage,
		cache.WithDebounceWindow(cfg.Cache.DebounceWindow),
		cache.WithLogger(logger.With("component", "cache")),
	)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Entity catalog over the mocked entity API
	registry := entity.NewRegistry(cfg.Catalog.SeedSampleData)
	catalog := entity.NewCatalog(registry, entityCache, busImpl, logger.With("component", "catalog"))
	if _, err := catalog.Subscribe(ctx); err != nil {
		slog.Error("failed to subscribe to cache invalidations", "error", err)
		os.Exit(1)
	}
	slog.Info("entity catalog initialized", "collections", registry.Names())

	// Loyalty
	conditions, err := loyalty.NewConditions(logger.With("component", "loyalty"))
	if err != nil {
		slog.Error("failed to initialize loyalty conditions", "error", err)
		os.Exit(1)
	}
	loyaltySvc := loyalty.NewService(repo, conditions, busImpl, logger.With("component", "loyalty"))

	// Permissions
	resolver := permission.NewResolver(repo, cfg.Permissions,
		permission.WithLogger(logger.With("component", "permission")),
	)
	if email := cfg.Permissions.BootstrapAdminEmail; email != "" {
		if _, err := resolver.Bootstrap(ctx, email); err != nil {
			slog.Error("failed to bootstrap platform operator", "error", err)
			os.Exit(1)
		}
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, loyaltySvc, logger.With("component", "worker"))
		if err := asyncWorker.Start(worker.Config{Concurrency: cfg.Worker.Concurrency}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Services{
		Repo:     repo,
		Bus:      busImpl,
		Cache:    entityCache,
		Catalog:  catalog,
		Loyalty:  loyaltySvc,
		Resolver: resolver,
	}, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("tidepoint is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	// Pending cache writes are flushed before storage goes away.
	entityCache.Close(shutdownCtx)

	slog.Info("tidepoint shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Tidepoint marketplace")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /entities/{name}                          - List a collection (?tier=short|medium|long)")
	fmt.Println("    POST /entities/{name}                          - Create an entity")
	fmt.Println("    GET  /me/permissions                           - Effective permissions")
	fmt.Println("    GET  /cache/stats                              - Entity cache statistics")
	fmt.Println("    POST /businesses/{id}/checkout                 - Award loyalty for a purchase")
	fmt.Println("    POST /businesses/{id}/checkin                  - Record a visit")
	fmt.Println("    POST /businesses/{id}/redeem                   - Spend points or cashback")
	fmt.Println("    GET  /businesses/{id}/loyalty-rules            - List loyalty rules")
	fmt.Println("    POST /tourists                                 - Register a tourist")
	fmt.Println("    GET  /health                                   - Health check")
	fmt.Println()
}
