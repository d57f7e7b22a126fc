// Command engine is the expiry engine CLI.
//
// Usage:
//
//	expiry-engine migrate
//	expiry-engine run
//	expiry-engine analytics
//	expiry-engine risk
//	expiry-engine score --product <id>
//	expiry-engine serve-worker
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/freshroute/expiry-engine/internal/app"
	"github.com/freshroute/expiry-engine/internal/config"
	"github.com/freshroute/expiry-engine/internal/db"
	"github.com/freshroute/expiry-engine/internal/listener"
	"github.com/freshroute/expiry-engine/internal/maintenance"
)

// Logs go to stderr; stdout carries command output.
var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "expiry-engine",
		Short:         "Perishable inventory expiry-risk engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(runCmd())
	root.AddCommand(analyticsCmd())
	root.AddCommand(riskCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(serveWorkerCmd())

	if err := root.Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			start := time.Now()
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Schema applied", "duration", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// pipeline commands
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				sum, err := a.Runner.Run(ctx)
				if printErr := printJSON(sum); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Recompute dynamic thresholds for every product with batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				result, err := a.Analytics.Run(ctx)
				if err != nil {
					return err
				}
				logger.Info("Analytics finished", "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("analytics error", "error", e)
				}
				return nil
			})
		},
	}
}

func riskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "List at-risk batches using the stored thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				batches, err := a.Risk.Detect(ctx)
				if err != nil {
					return err
				}
				return printJSON(batches)
			})
		},
	}
}

func scoreCmd() *cobra.Command {
	var productID string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Rank retailers for one product and persist the scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				ranked, err := a.Scorer.ScoreProduct(ctx, productID)
				if err != nil {
					return err
				}
				return printJSON(ranked)
			})
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "Product ID")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

// --------------------------------------------------------------------------
// serve-worker command
// --------------------------------------------------------------------------

func serveWorkerCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "serve-worker",
		Short: "Run scheduled pipeline runs, retention purge and the refresh listener until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				go listener.Start(ctx, a.Config.DatabaseURL, debounce, func(ctx context.Context) {
					maintenance.ScheduledRun(ctx, a.Runner, logger)
				}, logger)

				deps, mcfg := a.MaintenanceDeps()
				maintenance.Start(ctx, deps, mcfg, logger)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", listener.DefaultDebounce, "Quiet period before a refresh event triggers a run")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// withApp loads configuration, wires the engine and runs fn until it
// returns or the process is interrupted.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("Shutdown cleanup error", "error", err)
		}
	}()

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
