// Command api is the Expiry Engine API server.
//
// Usage:
//
//	expiry-api
//	API_PORT=8080 expiry-api

// @title Expiry Engine API
// @version 1.0.0
// @description Detects inventory batches at risk of expiring unsold, ranks retailers likely to buy them, and records deduplicated recommendations.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @contact.name FreshRoute
// @license.name MIT
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

	"github.com/joho/godotenv"

	"github.com/freshroute/expiry-engine/internal/api"
	"github.com/freshroute/expiry-engine/internal/app"
	"github.com/freshroute/expiry-engine/internal/cache"
	"github.com/freshroute/expiry-engine/internal/config"
	"github.com/freshroute/expiry-engine/internal/listener"
	"github.com/freshroute/expiry-engine/internal/maintenance"

	_ "github.com/freshroute/expiry-engine/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Wire the engine
	logger.Info("Connecting to database...")
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("Shutdown cleanup error", "error", err)
		}
	}()

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Background runs change what last-run, inbox and history return
	invalidateRunCaches := func() {
		appCache.Invalidate(cache.PrefixLastRun)
		appCache.Invalidate(cache.PrefixInbox)
		appCache.Invalidate(cache.PrefixHistory)
	}

	// Start LISTEN/NOTIFY consumer: stock and order changes trigger a run
	go listener.Start(ctx, cfg.DatabaseURL, listener.DefaultDebounce, func(ctx context.Context) {
		maintenance.ScheduledRun(ctx, a.Runner, logger)
		invalidateRunCaches()
	}, logger)

	// Start maintenance tickers (scheduled runs, retention purge)
	deps, mcfg := a.MaintenanceDeps()
	deps.AfterRun = invalidateRunCaches
	go maintenance.Start(ctx, deps, mcfg, logger)

	// Create router
	router := api.NewRouter(api.Deps{
		Runner:        a.Runner,
		Notifications: a.Service,
		DB:            a.Store,
		Cache:         appCache,
		Logger:        logger,
	}, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Engine.AnalyticsDeadline + cfg.Engine.ScoringDeadline + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Expiry Engine API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
