package scoring

import (
	"math"
	"time"

	"github.com/freshroute/expiry-engine/internal/apperr"
)

// Weights are the composite's coefficients, one per signal.
type Weights struct {
	Frequency   float64 `json:"frequency"`
	Volume      float64 `json:"volume"`
	Recency     float64 `json:"recency"`
	SellThrough float64 `json:"sellThrough"`
	Reliability float64 `json:"reliability"`
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Frequency:   0.20,
		Volume:      0.20,
		Recency:     0.15,
		SellThrough: 0.25,
		Reliability: 0.20,
	}
}

const weightTolerance = 1e-9

// Validate checks every weight is non-negative and that they sum to 1.
func (w Weights) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"frequency", w.Frequency},
		{"volume", w.Volume},
		{"recency", w.Recency},
		{"sellThrough", w.SellThrough},
		{"reliability", w.Reliability},
	}

	var sum float64
	for _, n := range named {
		if n.v < 0 || math.IsNaN(n.v) || math.IsInf(n.v, 0) {
			return apperr.Invalid("weight %s must be a non-negative number, got %v", n.name, n.v)
		}
		sum += n.v
	}
	if math.Abs(sum-1) > weightTolerance {
		return apperr.Invalid("weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// Options tunes the signal windows and the per-signal fan-out.
type Options struct {
	Weights           Weights
	FrequencyWindow   time.Duration // frequency and volume lookback
	SellThroughWindow time.Duration
	RecencyDecay      float64 // per day
	Concurrency       int     // per-signal retailer queries in flight
}

// DefaultOptions returns the production options.
func DefaultOptions() Options {
	return Options{
		Weights:           DefaultWeights(),
		FrequencyWindow:   180 * 24 * time.Hour,
		SellThroughWindow: 60 * 24 * time.Hour,
		RecencyDecay:      0.05,
		Concurrency:       8,
	}
}
