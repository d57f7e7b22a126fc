package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/risk"
	"github.com/freshroute/expiry-engine/internal/scoring"
)

// EmitResult counts what one emission pass did.
type EmitResult struct {
	Created                 int
	Skipped                 int // pairs already notified inside the window
	BatchesWithoutRetailers int
	Duration                time.Duration
}

// Summary returns a human-readable summary of the pass.
func (r *EmitResult) Summary() string {
	return fmt.Sprintf("created=%d skipped=%d batches_without_retailers=%d duration=%s",
		r.Created, r.Skipped, r.BatchesWithoutRetailers, r.Duration.Round(time.Millisecond))
}

// Emitter writes recommendation rows for at-risk batches.
type Emitter struct {
	store  EmitStore
	topN   int
	window time.Duration
	logger *slog.Logger

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

// NewEmitter creates an Emitter. Non-positive topN or window fall back to
// the defaults.
func NewEmitter(store EmitStore, topN int, window time.Duration, logger *slog.Logger) *Emitter {
	if topN < 1 {
		topN = DefaultTopRetailers
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Emitter{
		store:  store,
		topN:   topN,
		window: window,
		logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// TopN returns the first n entries of ranked, or all of them when shorter.
func TopN(ranked []scoring.ScoredRetailer, n int) []scoring.ScoredRetailer {
	if len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}

// Emit notifies the top retailers of each batch's product. Store failures
// abort the pass; the counts reached so far are returned with the error.
func (e *Emitter) Emit(ctx context.Context, batches []risk.AtRiskBatch, ranked map[string][]scoring.ScoredRetailer) (EmitResult, error) {
	start := time.Now()
	var result EmitResult

	for _, b := range batches {
		selected := TopN(ranked[b.ProductID], e.topN)
		if len(selected) == 0 {
			result.BatchesWithoutRetailers++
			e.logger.Warn("No retailers scored for product, skipping batch",
				"product_id", b.ProductID, "batch_id", b.ID)
			continue
		}

		for i, r := range selected {
			now := e.Now()
			n := model.NotificationLog{
				ID:               e.NewID(),
				RetailerID:       r.RetailerID,
				InventoryBatchID: b.ID,
				UrgencyScore:     b.UrgencyScore,
				RetailerRank:     i + 1,
				Outcome:          model.OutcomePending,
				SentAt:           now,
			}
			created, err := e.store.CreateNotificationIfAbsent(ctx, n, now.Add(-e.window))
			if err != nil {
				result.Duration = time.Since(start)
				return result, fmt.Errorf("create notification for batch %s: %w", b.ID, err)
			}
			if created {
				result.Created++
			} else {
				result.Skipped++
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.Info("Notifications emitted", "summary", result.Summary())
	return result, nil
}
