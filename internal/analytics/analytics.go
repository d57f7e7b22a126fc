// Package analytics derives each product's dynamic expiry-risk threshold
// from its historical sell cadence.
//
// Flow: list products with batches -> load order lines -> compute stats ->
// upsert one product_analytics row per product. Per-product failures are
// logged and counted; the run carries on with the remaining products.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/numeric"
)

// Fallbacks. The no-history and single-date cases differ on purpose.
const (
	NoHistoryAvgDays   = 30
	NoHistoryStdDev    = 10
	NoHistoryThreshold = 14

	SparseAvgDays = 30
	SparseStdDev  = 7

	// ThresholdStdDevs is the one-sided buffer added to the mean gap.
	ThresholdStdDevs = 1.5
)

// Store is the persistence the analytics stage needs.
type Store interface {
	ListProductsWithBatches(ctx context.Context) ([]model.Product, error)
	ListOrderLines(ctx context.Context, productID string) ([]model.OrderLine, error)
	UpsertProductAnalytics(ctx context.Context, a model.ProductAnalytics) error
}

// Result tracks counts and errors from one analytics pass.
type Result struct {
	ProductsFound int
	Computed      int
	Failed        int
	Partial       bool // deadline hit before every product was visited
	Errors        []string
	Fresh         map[string]bool `json:"-"` // products whose row this pass rewrote
	Duration      time.Duration
}

// Summary returns a human-readable summary of the pass.
func (r *Result) Summary() string {
	return fmt.Sprintf(
		"products=%d computed=%d failed=%d partial=%t errors=%d duration=%s",
		r.ProductsFound, r.Computed, r.Failed, r.Partial, len(r.Errors),
		r.Duration.Round(time.Millisecond),
	)
}

// Engine recomputes product analytics.
type Engine struct {
	store    Store
	logger   *slog.Logger
	deadline time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// New creates an Engine. A zero deadline means no bound on the loop.
func New(store Store, deadline time.Duration, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger, deadline: deadline, Now: time.Now}
}

// Run recomputes analytics for every product that has at least one batch.
// Only a failure to list products fails the pass.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	products, err := e.store.ListProductsWithBatches(ctx)
	if err != nil {
		return result, fmt.Errorf("list products: %w", err)
	}
	result.ProductsFound = len(products)
	result.Fresh = make(map[string]bool, len(products))

	loopCtx := ctx
	var stopAt time.Time
	if e.deadline > 0 {
		var cancel context.CancelFunc
		stopAt = start.Add(e.deadline)
		loopCtx, cancel = context.WithDeadline(ctx, stopAt)
		defer cancel()
	}

	now := e.Now()
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !stopAt.IsZero() && !time.Now().Before(stopAt) {
			result.Partial = true
			e.logger.Warn("Analytics deadline reached",
				"visited", result.Computed+result.Failed, "products", len(products))
			break
		}

		if err := e.computeOne(loopCtx, p.ID, now); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("product %s: %s", p.ID, err))
			e.logger.Warn("Product analytics failed", "product_id", p.ID, "error", err)
			continue
		}
		result.Computed++
		result.Fresh[p.ID] = true
	}

	result.Duration = time.Since(start)
	e.logger.Info("Product analytics computed", "summary", result.Summary())
	return result, nil
}

func (e *Engine) computeOne(ctx context.Context, productID string, now time.Time) error {
	lines, err := e.store.ListOrderLines(ctx, productID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	a, err := Compute(productID, lines, now)
	if err != nil {
		return err
	}
	if err := e.store.UpsertProductAnalytics(ctx, a); err != nil {
		return fmt.Errorf("upsert analytics: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Compute derives a product's analytics from its order lines at now.
func Compute(productID string, lines []model.OrderLine, now time.Time) (model.ProductAnalytics, error) {
	a := model.ProductAnalytics{ProductID: productID, LastComputedAt: now}

	if len(lines) == 0 {
		a.AvgDaysToSell = NoHistoryAvgDays
		a.SellVelocityPerDay = 0
		a.StdDevDays = NoHistoryStdDev
		a.DynamicThresholdDays = NoHistoryThreshold
		return a, nil
	}

	totalUnits := 0
	earliest := lines[0].CreatedAt
	dates := make(map[time.Time]struct{}, len(lines))
	for _, l := range lines {
		totalUnits += l.Quantity
		if l.CreatedAt.Before(earliest) {
			earliest = l.CreatedAt
		}
		dates[calendarDate(l.CreatedAt)] = struct{}{}
	}

	daysCovered := math.Max(1, now.Sub(earliest).Hours()/24)
	a.SellVelocityPerDay = float64(totalUnits) / daysCovered

	a.AvgDaysToSell, a.StdDevDays = gapStats(dates)
	if math.IsNaN(a.AvgDaysToSell) || math.IsNaN(a.StdDevDays) {
		return a, apperr.Compute("product %s: gap statistics are undefined", productID)
	}

	// Rounding first keeps float noise from pushing an exact integer up a day.
	a.DynamicThresholdDays = int(math.Ceil(numeric.Round(a.AvgDaysToSell+ThresholdStdDevs*a.StdDevDays, 9)))
	return a, nil
}

// gapStats returns the mean and population standard deviation of the day
// gaps between consecutive distinct order dates.
func gapStats(dates map[time.Time]struct{}) (mean, stdDev float64) {
	if len(dates) < 2 {
		return SparseAvgDays, SparseStdDev
	}

	sorted := make([]time.Time, 0, len(dates))
	for d := range dates {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Sub(sorted[i-1]).Hours()/24)
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean = sum / float64(len(gaps))

	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	return mean, math.Sqrt(variance)
}

// calendarDate truncates t to its UTC calendar day.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

