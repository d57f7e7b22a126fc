// Package maintenance runs periodic background tasks as Go tickers: the
// scheduled pipeline run and the notification retention purge.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/pipeline"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	RunInterval   time.Duration // Full pipeline run
	PurgeInterval time.Duration // Retention purge of answered notifications
	Retention     time.Duration // Age after which non-pending rows are purged
}

// DefaultConfig returns sensible production defaults. Scheduled runs are
// off unless configured.
func DefaultConfig() Config {
	return Config{
		PurgeInterval: 6 * time.Hour,
		Retention:     90 * 24 * time.Hour,
	}
}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
}

// Purger deletes answered notifications sent before cutoff.
type Purger interface {
	PurgeNotifications(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps are the collaborators the tasks call. Analyze and AfterRun may be nil.
type Deps struct {
	Runner  Runner
	Purger  Purger
	Analyze Execer

	// AfterRun is called after every scheduled run, whatever its outcome.
	AfterRun func()
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, deps Deps, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"run", cfg.RunInterval,
		"purge", cfg.PurgeInterval,
		"retention", cfg.Retention)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Scheduled pipeline run
	if cfg.RunInterval > 0 && deps.Runner != nil {
		t := time.NewTicker(cfg.RunInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() {
			ScheduledRun(ctx, deps.Runner, logger)
			if deps.AfterRun != nil {
				deps.AfterRun()
			}
		})
	}

	// Retention purge
	if cfg.PurgeInterval > 0 && cfg.Retention > 0 && deps.Purger != nil {
		t := time.NewTicker(cfg.PurgeInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { Purge(ctx, deps.Purger, deps.Analyze, cfg.Retention, time.Now(), logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// ScheduledRun runs the pipeline once. A run already in progress elsewhere
// is not an error.
func ScheduledRun(ctx context.Context, runner Runner, logger *slog.Logger) {
	sum, err := runner.Run(ctx)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		logger.Info("Scheduled run skipped: run already in progress")
	case err != nil:
		logger.Warn("Scheduled run failed", "error", err)
	default:
		logger.Info("Scheduled run complete", "summary", sum.Text())
	}
}

// Purge removes non-pending notifications older than retention. Pending
// rows are kept so the dedup window and inbox never lose an open
// recommendation. Returns the number of rows removed.
func Purge(ctx context.Context, purger Purger, analyze Execer, retention time.Duration, now time.Time, logger *slog.Logger) int64 {
	cutoff := now.Add(-retention)
	n, err := purger.PurgeNotifications(ctx, cutoff)
	if err != nil {
		logger.Warn("Purge: failed to remove old notifications", "error", err)
		return 0
	}
	if n == 0 {
		return 0
	}
	logger.Info("Purge: removed old notifications", "count", n, "cutoff", cutoff)

	if analyze != nil {
		_ = AnalyzeTables(ctx, analyze, logger)
	}
	return n
}
