// Package risk flags sellable batches whose remaining shelf life has fallen
// within their product's dynamic threshold and scores how urgent they are.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/numeric"
)

// Store is the persistence the risk stage reads from.
type Store interface {
	ListProductAnalytics(ctx context.Context) ([]model.ProductAnalytics, error)
	ListSellableBatches(ctx context.Context, now time.Time) ([]model.BatchDetail, error)
}

// AtRiskBatch is a batch that crossed its product's threshold.
type AtRiskBatch struct {
	model.BatchDetail
	DaysRemaining int     `json:"daysRemaining"`
	UrgencyScore  float64 `json:"urgencyScore"`
	ThresholdDays int     `json:"thresholdDays"`
}

// Detector scans live inventory against the latest analytics.
type Detector struct {
	store  Store
	logger *slog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// New creates a Detector.
func New(store Store, logger *slog.Logger) *Detector {
	return &Detector{store: store, logger: logger, Now: time.Now}
}

// Detect returns at-risk batches, most urgent first. Equal urgencies are
// ordered by batch id. Every stored threshold is trusted.
func (d *Detector) Detect(ctx context.Context) ([]AtRiskBatch, error) {
	return d.detect(ctx, nil)
}

// DetectFresh is Detect restricted to thresholds recomputed in the current
// run. Batches of any other product are skipped like batches without a
// threshold.
func (d *Detector) DetectFresh(ctx context.Context, fresh map[string]bool) ([]AtRiskBatch, error) {
	if fresh == nil {
		fresh = map[string]bool{}
	}
	return d.detect(ctx, fresh)
}

func (d *Detector) detect(ctx context.Context, fresh map[string]bool) ([]AtRiskBatch, error) {
	all, err := d.store.ListProductAnalytics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list analytics: %w", err)
	}
	thresholds := make(map[string]int, len(all))
	stale := 0
	for _, a := range all {
		if fresh != nil && !fresh[a.ProductID] {
			stale++
			continue
		}
		thresholds[a.ProductID] = a.DynamicThresholdDays
	}
	if stale > 0 {
		d.logger.Warn("Ignoring thresholds not recomputed this run", "products", stale)
	}

	now := d.Now()
	batches, err := d.store.ListSellableBatches(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	var atRisk []AtRiskBatch
	skipped := 0
	for _, b := range batches {
		// Guard against a store that does not filter.
		if !b.Sellable(now) {
			continue
		}
		threshold, ok := thresholds[b.ProductID]
		if !ok {
			skipped++
			d.logger.Debug("No threshold for batch", "batch_id", b.ID, "product_id", b.ProductID)
			continue
		}

		days := b.DaysRemaining(now)
		if days > threshold {
			continue
		}
		score, err := Urgency(days, threshold)
		if err != nil {
			skipped++
			d.logger.Warn("Urgency not computable", "batch_id", b.ID, "error", err)
			continue
		}
		atRisk = append(atRisk, AtRiskBatch{
			BatchDetail:   b,
			DaysRemaining: days,
			UrgencyScore:  score,
			ThresholdDays: threshold,
		})
	}

	sort.SliceStable(atRisk, func(i, j int) bool {
		if atRisk[i].UrgencyScore != atRisk[j].UrgencyScore {
			return atRisk[i].UrgencyScore > atRisk[j].UrgencyScore
		}
		return atRisk[i].ID < atRisk[j].ID
	})

	d.logger.Info("At-risk batches detected",
		"scanned", len(batches), "at_risk", len(atRisk), "skipped", skipped)
	return atRisk, nil
}

// Urgency is 1 - daysRemaining/threshold, rounded to four places. It is 1
// when no days remain and falls as daysRemaining grows.
func Urgency(daysRemaining, thresholdDays int) (float64, error) {
	if thresholdDays <= 0 {
		return 0, apperr.Compute("threshold must be positive, got %d", thresholdDays)
	}
	return numeric.Round4(1 - float64(daysRemaining)/float64(thresholdDays)), nil
}

// ProductIDs returns the distinct product ids of batches in first-seen order.
func ProductIDs(batches []AtRiskBatch) []string {
	seen := make(map[string]bool, len(batches))
	var ids []string
	for _, b := range batches {
		if !seen[b.ProductID] {
			seen[b.ProductID] = true
			ids = append(ids, b.ProductID)
		}
	}
	return ids
}
