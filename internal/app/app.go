// Package app assembles the engine from configuration. Both binaries build
// the same graph: pool, store, run lock, the four stages and the runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/freshroute/expiry-engine/internal/analytics"
	"github.com/freshroute/expiry-engine/internal/config"
	"github.com/freshroute/expiry-engine/internal/db"
	"github.com/freshroute/expiry-engine/internal/lock"
	"github.com/freshroute/expiry-engine/internal/maintenance"
	"github.com/freshroute/expiry-engine/internal/notifications"
	"github.com/freshroute/expiry-engine/internal/pipeline"
	"github.com/freshroute/expiry-engine/internal/risk"
	"github.com/freshroute/expiry-engine/internal/scoring"
	"github.com/freshroute/expiry-engine/internal/store"
	"github.com/freshroute/expiry-engine/internal/telemetry"
)

// App is the wired engine.
type App struct {
	Config *config.Config
	Pool   *db.Pool
	Store  *store.Postgres

	Analytics *analytics.Engine
	Risk      *risk.Detector
	Scorer    *scoring.Scorer
	Emitter   *notifications.Emitter
	Service   *notifications.Service
	Runner    *pipeline.Runner

	closers []func(context.Context) error
}

// Build connects to Postgres (and Redis when configured), installs
// telemetry and wires every component.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg}

	shutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)
	if cfg.OTLPEndpoint != "" {
		logger.Info("Telemetry enabled", "endpoint", cfg.OTLPEndpoint)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		rl, err := lock.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rl.Close() })
		locker = rl
		logger.Info("Run lock: redis", "addr", cfg.RedisAddr)
	} else {
		locker = lock.NewLocal()
		logger.Info("Run lock: in-process (REDIS_ADDR not set)")
	}

	eng := cfg.Engine
	a.Store = store.NewPostgres(pool)
	a.Analytics = analytics.New(a.Store, eng.AnalyticsDeadline, logger)
	a.Risk = risk.New(a.Store, logger)
	a.Scorer = scoring.New(a.Store, eng.ScoringOptions(), logger)
	a.Emitter = notifications.NewEmitter(a.Store, eng.TopRetailers, eng.DedupWindow, logger)
	a.Service = notifications.NewService(a.Store, logger)
	a.Runner = pipeline.New(pipeline.Stages{
		Analytics: a.Analytics,
		Risk:      a.Risk,
		Scoring:   a.Scorer,
		Notify:    a.Emitter,
	}, locker, pipeline.Config{
		TopRetailers:    eng.TopRetailers,
		ScoringDeadline: eng.ScoringDeadline,
		LockTTL:         eng.RunLockTTL,
	}, logger)

	return a, nil
}

// MaintenanceDeps returns the collaborators for the background tickers.
func (a *App) MaintenanceDeps() (maintenance.Deps, maintenance.Config) {
	cfg := maintenance.DefaultConfig()
	cfg.RunInterval = a.Config.Engine.RunInterval
	cfg.Retention = a.Config.Engine.NotificationRetention
	return maintenance.Deps{Runner: a.Runner, Purger: a.Store, Analyze: a.Pool}, cfg
}

// Close releases connections and flushes telemetry, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
