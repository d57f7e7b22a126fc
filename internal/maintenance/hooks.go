package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// analyzedTables have their planner statistics refreshed after a purge.
var analyzedTables = []string{
	"notification_logs",
}

// AnalyzeTables refreshes planner statistics for tables that lost many
// rows, so the dedup lookup keeps using its index.
func AnalyzeTables(ctx context.Context, db Execer, logger *slog.Logger) error {
	for _, t := range analyzedTables {
		start := time.Now()
		_, err := db.Exec(ctx, fmt.Sprintf("ANALYZE %s", t))
		dur := time.Since(start).Round(time.Millisecond)

		if err != nil {
			logger.Warn("Failed to analyze table",
				"table", t, "duration", dur, "error", err)
			return fmt.Errorf("analyze %s: %w", t, err)
		}
		logger.Info("Analyzed table", "table", t, "duration", dur)
	}
	return nil
}
