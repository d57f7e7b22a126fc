// Package scoring ranks active retailers by how likely they are to take an
// at-risk product.
//
// Five signals are computed concurrently for a product: frequency, volume,
// recency, sell-through and reliability. Each signal queries the store once
// per retailer in a bounded pool, then min-max normalizes across the
// retailer population (recency excepted). The weighted composite is
// persisted per (retailer, product) and the ranking is returned.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/numeric"
)

// neutralReliability is assigned to retailers without any orders.
const neutralReliability = 0.5

// Store is the persistence the scoring stage needs.
type Store interface {
	ListActiveRetailers(ctx context.Context) ([]model.User, error)
	GetProduct(ctx context.Context, id string) (model.Product, error)

	CountCategoryOrders(ctx context.Context, retailerID, category string, since time.Time) (int, error)
	AvgCategoryItemQuantity(ctx context.Context, retailerID, category string, since time.Time) (float64, error)
	LastCategoryOrderAt(ctx context.Context, retailerID, category string) (time.Time, bool, error)
	UnitsSoldSince(ctx context.Context, retailerID, productID string, since time.Time) (int, error)
	RetailerStockQuantity(ctx context.Context, retailerID, productID string) (int, error)
	RetailerOrderCounts(ctx context.Context, retailerID string) (total, completed int, err error)

	UpsertRetailerScores(ctx context.Context, scores []model.RetailerScore) error
}

// Signals are one retailer's five component scores.
type Signals struct {
	Frequency   float64 `json:"frequency"`
	Volume      float64 `json:"volume"`
	Recency     float64 `json:"recency"`
	SellThrough float64 `json:"sellThrough"`
	Reliability float64 `json:"reliability"`
}

// ScoredRetailer is one entry of a product's ranking.
type ScoredRetailer struct {
	RetailerID     string  `json:"retailerId"`
	RetailerName   string  `json:"retailerName"`
	ShopName       string  `json:"shopName"`
	Scores         Signals `json:"scores"`
	CompositeScore float64 `json:"compositeScore"`
}

// Scorer computes and persists retailer rankings.
type Scorer struct {
	store  Store
	opts   Options
	logger *slog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// New creates a Scorer. Options are used as given; validate weights at
// configuration time.
func New(store Store, opts Options, logger *slog.Logger) *Scorer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scorer{store: store, opts: opts, logger: logger, Now: time.Now}
}

// ScoreProduct ranks every active retailer for productID, highest composite
// first, ties by retailer id. A missing product scores zero on the three
// category signals.
func (s *Scorer) ScoreProduct(ctx context.Context, productID string) ([]ScoredRetailer, error) {
	start := time.Now()

	retailers, err := s.store.ListActiveRetailers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list retailers: %w", err)
	}
	if len(retailers) == 0 {
		return nil, nil
	}

	category, hasProduct := "", true
	product, err := s.store.GetProduct(ctx, productID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		hasProduct = false
		s.logger.Warn("Scoring unknown product", "product_id", productID)
	case err != nil:
		return nil, fmt.Errorf("get product: %w", err)
	default:
		category = product.Category
	}

	now := s.Now()
	frequencySince := now.Add(-s.opts.FrequencyWindow)
	sellThroughSince := now.Add(-s.opts.SellThroughWindow)

	var freq, vol, rec, sell, rel []float64
	zeros := make([]float64, len(retailers))

	// ----- Fan out: five independent signals -----
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		if !hasProduct {
			freq = zeros
			return nil
		}
		freq, err = s.perRetailer(gctx, retailers, func(ctx context.Context, r model.User) (float64, error) {
			n, err := s.store.CountCategoryOrders(ctx, r.ID, category, frequencySince)
			return float64(n), err
		})
		if err != nil {
			return fmt.Errorf("frequency: %w", err)
		}
		freq = Normalize(freq)
		return nil
	})

	g.Go(func() (err error) {
		if !hasProduct {
			vol = zeros
			return nil
		}
		vol, err = s.perRetailer(gctx, retailers, func(ctx context.Context, r model.User) (float64, error) {
			return s.store.AvgCategoryItemQuantity(ctx, r.ID, category, frequencySince)
		})
		if err != nil {
			return fmt.Errorf("volume: %w", err)
		}
		vol = Normalize(vol)
		return nil
	})

	g.Go(func() (err error) {
		if !hasProduct {
			rec = zeros
			return nil
		}
		rec, err = s.perRetailer(gctx, retailers, func(ctx context.Context, r model.User) (float64, error) {
			last, ok, err := s.store.LastCategoryOrderAt(ctx, r.ID, category)
			if err != nil || !ok {
				return 0, err
			}
			return Recency(now.Sub(last), s.opts.RecencyDecay), nil
		})
		if err != nil {
			return fmt.Errorf("recency: %w", err)
		}
		return nil
	})

	g.Go(func() (err error) {
		sell, err = s.perRetailer(gctx, retailers, func(ctx context.Context, r model.User) (float64, error) {
			sold, err := s.store.UnitsSoldSince(ctx, r.ID, productID, sellThroughSince)
			if err != nil {
				return 0, err
			}
			stock, err := s.store.RetailerStockQuantity(ctx, r.ID, productID)
			if err != nil {
				return 0, err
			}
			return SellThrough(sold, stock), nil
		})
		if err != nil {
			return fmt.Errorf("sell-through: %w", err)
		}
		sell = Normalize(sell)
		return nil
	})

	g.Go(func() (err error) {
		rel, err = s.perRetailer(gctx, retailers, func(ctx context.Context, r model.User) (float64, error) {
			total, completed, err := s.store.RetailerOrderCounts(ctx, r.ID)
			if err != nil {
				return 0, err
			}
			return Reliability(total, completed), nil
		})
		if err != nil {
			return fmt.Errorf("reliability: %w", err)
		}
		rel = Normalize(rel)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// ----- Fan in: weight, rank, persist -----
	ranked := make([]ScoredRetailer, len(retailers))
	rows := make([]model.RetailerScore, len(retailers))
	for i, r := range retailers {
		sig := Signals{
			Frequency:   numeric.Round4(freq[i]),
			Volume:      numeric.Round4(vol[i]),
			Recency:     numeric.Round4(rec[i]),
			SellThrough: numeric.Round4(sell[i]),
			Reliability: numeric.Round4(rel[i]),
		}
		composite := Composite(s.opts.Weights, Signals{
			Frequency: freq[i], Volume: vol[i], Recency: rec[i], SellThrough: sell[i], Reliability: rel[i],
		})
		ranked[i] = ScoredRetailer{
			RetailerID:     r.ID,
			RetailerName:   r.Name,
			ShopName:       r.ShopName,
			Scores:         sig,
			CompositeScore: composite,
		}
		rows[i] = model.RetailerScore{
			RetailerID:       r.ID,
			ProductID:        productID,
			FrequencyScore:   sig.Frequency,
			VolumeScore:      sig.Volume,
			RecencyScore:     sig.Recency,
			SellThroughScore: sig.SellThrough,
			ReliabilityScore: sig.Reliability,
			CompositeScore:   composite,
			LastUpdated:      now,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].CompositeScore != ranked[j].CompositeScore {
			return ranked[i].CompositeScore > ranked[j].CompositeScore
		}
		return ranked[i].RetailerID < ranked[j].RetailerID
	})

	if err := s.store.UpsertRetailerScores(ctx, rows); err != nil {
		return nil, fmt.Errorf("upsert scores: %w", err)
	}

	s.logger.Debug("Retailers scored",
		"product_id", productID, "retailers", len(ranked), "duration", time.Since(start))
	return ranked, nil
}

// perRetailer runs fn for every retailer with at most Concurrency calls in
// flight. Results are indexed like retailers.
func (s *Scorer) perRetailer(ctx context.Context, retailers []model.User, fn func(context.Context, model.User) (float64, error)) ([]float64, error) {
	out := make([]float64, len(retailers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, r := range retailers {
		g.Go(func() error {
			v, err := fn(gctx, r)
			if err != nil {
				return fmt.Errorf("retailer %s: %w", r.ID, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Signal math
// --------------------------------------------------------------------------

// Normalize min-max scales values into [0,1]. When every value is equal
// each one maps to 0.5.
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range values {
		if span == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (v - lo) / span
	}
	return out
}

// Recency decays exponentially with the fractional days since the last
// matching order.
func Recency(since time.Duration, decayPerDay float64) float64 {
	days := math.Max(0, since.Hours()/24)
	return numeric.Round4(math.Exp(-decayPerDay * days))
}

// SellThrough is sold / (sold + stock), or 0 with neither.
func SellThrough(sold, stock int) float64 {
	total := sold + stock
	if total <= 0 {
		return 0
	}
	return float64(sold) / float64(total)
}

// Reliability is the share of completed orders, neutral without any.
func Reliability(total, completed int) float64 {
	if total == 0 {
		return neutralReliability
	}
	return float64(completed) / float64(total)
}

// Composite applies w to s and rounds to four places.
func Composite(w Weights, s Signals) float64 {
	return numeric.Round4(
		w.Frequency*s.Frequency +
			w.Volume*s.Volume +
			w.Recency*s.Recency +
			w.SellThrough*s.SellThrough +
			w.Reliability*s.Reliability,
	)
}
