// Package listener provides a Postgres LISTEN/NOTIFY consumer that wakes the
// engine when stock or orders change. It holds a dedicated pgx connection
// (not from the pool) listening on the `engine_refresh` channel.
//
// Triggers on inventory_batches and orders fire pg_notify with the table
// name. Bursts of events are coalesced: one pipeline run starts once the
// channel has been quiet for the debounce window.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	channel          = "engine_refresh"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second

	// DefaultDebounce is the quiet period before a run starts.
	DefaultDebounce = 5 * time.Second
)

// Trigger starts one pipeline run. It is never called concurrently.
type Trigger func(ctx context.Context)

// Start opens a dedicated connection and listens on the engine_refresh
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, debounce time.Duration, trigger Trigger, logger *slog.Logger) {
	events := make(chan string, 64)
	go Debounce(ctx, events, debounce, trigger, logger)

	backoff := reconnectBackoff
	for {
		err := listenLoop(ctx, dbURL, events, logger)
		if ctx.Err() != nil {
			logger.Info("Refresh listener stopped (context cancelled)")
			return
		}

		logger.Error("Refresh listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, events chan<- string, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Refresh listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		logger.Debug("Refresh event received", "source", notification.Payload)

		// A full buffer already guarantees a pending run.
		select {
		case events <- notification.Payload:
		default:
		}
	}
}

// Debounce calls trigger once events have stopped arriving for wait. Events
// that arrive while trigger runs schedule one more run afterwards. Blocks
// until ctx is cancelled.
func Debounce(ctx context.Context, events <-chan string, wait time.Duration, trigger Trigger, logger *slog.Logger) {
	var timer *time.Timer
	var fire <-chan time.Time // nil while nothing is pending
	pending := 0

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-events:
			pending++
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			logger.Info("Refresh events settled, starting pipeline run", "events", pending)
			pending = 0
			trigger(ctx)
		}
	}
}
