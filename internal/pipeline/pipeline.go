// Package pipeline runs the four engine stages in order: product analytics,
// risk detection, retailer scoring per at-risk product, and notification
// emission. One run at a time is enforced through a lock.Locker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/freshroute/expiry-engine/internal/analytics"
	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/lock"
	"github.com/freshroute/expiry-engine/internal/notifications"
	"github.com/freshroute/expiry-engine/internal/risk"
	"github.com/freshroute/expiry-engine/internal/scoring"
)

const (
	instrumentationName = "github.com/freshroute/expiry-engine/internal/pipeline"
	runLockKey          = "engine:pipeline:run"
)

// --------------------------------------------------------------------------
// Stage contracts
// --------------------------------------------------------------------------

type Analyzer interface {
	Run(ctx context.Context) (analytics.Result, error)
}

// Detector only considers products in fresh, the ones whose threshold the
// analytics stage rewrote in this run.
type Detector interface {
	DetectFresh(ctx context.Context, fresh map[string]bool) ([]risk.AtRiskBatch, error)
}

type Scorer interface {
	ScoreProduct(ctx context.Context, productID string) ([]scoring.ScoredRetailer, error)
}

type Emitter interface {
	Emit(ctx context.Context, batches []risk.AtRiskBatch, ranked map[string][]scoring.ScoredRetailer) (notifications.EmitResult, error)
}

// Stages are the four components a run drives.
type Stages struct {
	Analytics Analyzer
	Risk      Detector
	Scoring   Scorer
	Notify    Emitter
}

// Config tunes the orchestrator.
type Config struct {
	TopRetailers    int           // retailers attached to each batch in the summary
	ScoringDeadline time.Duration // 0 = unbounded
	LockTTL         time.Duration
}

// --------------------------------------------------------------------------
// Summary
// --------------------------------------------------------------------------

// Summary is what one run reports. A failed run carries only Success=false,
// the error message and the elapsed time.
type Summary struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	ElapsedMs int64     `json:"elapsedMs"`

	AtRiskCount             int `json:"atRiskCount"`
	NotificationsCreated    int `json:"notificationsCreated"`
	NotificationsSkipped    int `json:"notificationsSkipped"`
	BatchesWithoutRetailers int `json:"batchesWithoutRetailers"`

	ProductsAnalyzed int      `json:"productsAnalyzed"`
	AnalyticsFailed  int      `json:"analyticsFailed"`
	ProductsScored   int      `json:"productsScored"`
	ScoringFailed    int      `json:"scoringFailed"`
	Partial          bool     `json:"partial"`
	Errors           []string `json:"errors,omitempty"`

	Batches []BatchSummary `json:"batches"`
}

// BatchSummary is one at-risk batch with its top retailers.
type BatchSummary struct {
	BatchID       string                   `json:"batchId"`
	ProductID     string                   `json:"productId"`
	Product       string                   `json:"product"`
	Category      string                   `json:"category"`
	DaysRemaining int                      `json:"daysRemaining"`
	UrgencyScore  float64                  `json:"urgencyScore"`
	Quantity      int                      `json:"quantity"`
	ExpiryDate    time.Time                `json:"expiryDate"`
	TopRetailers  []scoring.ScoredRetailer `json:"topRetailers"`
}

// Text returns a one-line summary for logs and the CLI.
func (s *Summary) Text() string {
	if !s.Success {
		return fmt.Sprintf("success=false error=%q elapsed=%dms", s.Error, s.ElapsedMs)
	}
	return fmt.Sprintf(
		"success=true at_risk=%d created=%d skipped=%d analyzed=%d scored=%d failed=%d partial=%t elapsed=%dms",
		s.AtRiskCount, s.NotificationsCreated, s.NotificationsSkipped,
		s.ProductsAnalyzed, s.ProductsScored, s.AnalyticsFailed+s.ScoringFailed,
		s.Partial, s.ElapsedMs,
	)
}

// --------------------------------------------------------------------------
// Runner
// --------------------------------------------------------------------------

// Runner executes pipeline runs.
type Runner struct {
	stages Stages
	locker lock.Locker
	cfg    Config
	logger *slog.Logger

	tracer   trace.Tracer
	runs     metric.Int64Counter
	created  metric.Int64Counter
	skipped  metric.Int64Counter
	duration metric.Float64Histogram

	mu   sync.Mutex
	last *Summary
}

// New creates a Runner.
func New(stages Stages, locker lock.Locker, cfg Config, logger *slog.Logger) *Runner {
	if cfg.TopRetailers < 1 {
		cfg.TopRetailers = notifications.DefaultTopRetailers
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	r := &Runner{
		stages: stages,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
	if err := r.initMetrics(); err != nil {
		logger.Warn("Pipeline metrics disabled", "error", err)
	}
	return r
}

func (r *Runner) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	var errs []error
	var err error
	r.runs, err = meter.Int64Counter("engine.pipeline.runs", metric.WithDescription("Pipeline runs by outcome"))
	errs = append(errs, err)
	r.created, err = meter.Int64Counter("engine.notifications.created")
	errs = append(errs, err)
	r.skipped, err = meter.Int64Counter("engine.notifications.skipped", metric.WithDescription("Pairs suppressed by the dedup window"))
	errs = append(errs, err)
	r.duration, err = meter.Float64Histogram("engine.pipeline.duration", metric.WithUnit("s"))
	errs = append(errs, err)
	return errors.Join(errs...)
}

// LastRun returns the summary of the most recent completed or failed run.
func (r *Runner) LastRun() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Run executes one full pipeline run. It fails with apperr.ErrConflict when
// another run holds the lock.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	release, ok, err := r.locker.TryLock(ctx, runLockKey, r.cfg.LockTTL)
	if err != nil {
		return r.finish(ctx, span, start, Summary{}, fmt.Errorf("acquire run lock: %w", err))
	}
	if !ok {
		err := apperr.Conflict("pipeline run already in progress")
		span.SetStatus(codes.Error, err.Error())
		return Summary{Success: false, Error: err.Error(), StartedAt: start}, err
	}
	defer release()

	sum, err := r.run(ctx)
	return r.finish(ctx, span, start, sum, err)
}

func (r *Runner) finish(ctx context.Context, span trace.Span, start time.Time, sum Summary, err error) (Summary, error) {
	elapsed := time.Since(start)
	if err != nil {
		sum = Summary{Success: false, Error: err.Error()}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Pipeline run failed", "error", err, "duration", elapsed)
	}
	sum.StartedAt = start
	sum.ElapsedMs = elapsed.Milliseconds()

	outcome := attribute.Bool("success", sum.Success)
	if r.runs != nil {
		r.runs.Add(ctx, 1, metric.WithAttributes(outcome))
	}
	if r.duration != nil {
		r.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(outcome))
	}
	if sum.Success {
		r.logger.Info("Pipeline run complete", "summary", sum.Text())
	}

	r.mu.Lock()
	last := sum
	r.last = &last
	r.mu.Unlock()
	return sum, err
}

func (r *Runner) run(ctx context.Context) (Summary, error) {
	var sum Summary

	// 1. Thresholds
	stageCtx, span := r.tracer.Start(ctx, "pipeline.analytics")
	ares, err := r.stages.Analytics.Run(stageCtx)
	span.SetAttributes(attribute.Int("products.computed", ares.Computed), attribute.Int("products.failed", ares.Failed))
	span.End()
	if err != nil {
		return sum, fmt.Errorf("product analytics: %w", err)
	}
	sum.ProductsAnalyzed = ares.Computed
	sum.AnalyticsFailed = ares.Failed
	sum.Partial = ares.Partial
	sum.Errors = append(sum.Errors, ares.Errors...)

	// 2. At-risk batches
	stageCtx, span = r.tracer.Start(ctx, "pipeline.risk")
	batches, err := r.stages.Risk.DetectFresh(stageCtx, ares.Fresh)
	span.SetAttributes(attribute.Int("batches.at_risk", len(batches)))
	span.End()
	if err != nil {
		return sum, fmt.Errorf("risk detection: %w", err)
	}
	sum.AtRiskCount = len(batches)
	if len(batches) == 0 {
		sum.Success = true
		sum.Batches = []BatchSummary{}
		return sum, nil
	}

	// 3. Rank retailers per unique product
	stageCtx, span = r.tracer.Start(ctx, "pipeline.scoring")
	ranked, err := r.scoreProducts(stageCtx, risk.ProductIDs(batches), &sum)
	span.SetAttributes(attribute.Int("products.scored", sum.ProductsScored), attribute.Int("products.failed", sum.ScoringFailed))
	span.End()
	if err != nil {
		return sum, err
	}

	// 4. Notify. Batches whose product was not ranked are left out.
	emittable := make([]risk.AtRiskBatch, 0, len(batches))
	for _, b := range batches {
		if _, ok := ranked[b.ProductID]; ok {
			emittable = append(emittable, b)
		}
	}
	stageCtx, span = r.tracer.Start(ctx, "pipeline.notify")
	eres, err := r.stages.Notify.Emit(stageCtx, emittable, ranked)
	span.SetAttributes(attribute.Int("notifications.created", eres.Created), attribute.Int("notifications.skipped", eres.Skipped))
	span.End()
	if err != nil {
		return sum, fmt.Errorf("emit notifications: %w", err)
	}
	sum.NotificationsCreated = eres.Created
	sum.NotificationsSkipped = eres.Skipped
	sum.BatchesWithoutRetailers = eres.BatchesWithoutRetailers
	if r.created != nil {
		r.created.Add(ctx, int64(eres.Created))
	}
	if r.skipped != nil {
		r.skipped.Add(ctx, int64(eres.Skipped))
	}

	sum.Batches = make([]BatchSummary, 0, len(batches))
	for _, b := range batches {
		top := notifications.TopN(ranked[b.ProductID], r.cfg.TopRetailers)
		if top == nil {
			top = []scoring.ScoredRetailer{}
		}
		sum.Batches = append(sum.Batches, BatchSummary{
			BatchID:       b.ID,
			ProductID:     b.ProductID,
			Product:       b.Product.Name,
			Category:      b.Product.Category,
			DaysRemaining: b.DaysRemaining,
			UrgencyScore:  b.UrgencyScore,
			Quantity:      b.Quantity,
			ExpiryDate:    b.ExpiryDate,
			TopRetailers:  top,
		})
	}
	sum.Success = true
	return sum, nil
}

// scoreProducts ranks retailers for each product in order. A product that
// fails is logged and counted. Reaching ScoringDeadline stops the loop, even
// mid-product, and marks the run partial; cancellation of ctx fails the run.
func (r *Runner) scoreProducts(ctx context.Context, productIDs []string, sum *Summary) (map[string][]scoring.ScoredRetailer, error) {
	ranked := make(map[string][]scoring.ScoredRetailer, len(productIDs))

	loopCtx := ctx
	if r.cfg.ScoringDeadline > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, r.cfg.ScoringDeadline)
		defer cancel()
	}

	for _, pid := range productIDs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("score retailers: %w", err)
		}
		if loopCtx.Err() != nil {
			r.stopScoring(sum, len(productIDs), "")
			break
		}

		list, err := r.stages.Scoring.ScoreProduct(loopCtx, pid)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("score retailers: %w", ctx.Err())
			}
			if loopCtx.Err() != nil {
				r.stopScoring(sum, len(productIDs), pid)
				break
			}
			sum.ScoringFailed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("score product %s: %s", pid, err))
			r.logger.Warn("Retailer scoring failed", "product_id", pid, "error", err)
			continue
		}
		ranked[pid] = list
		sum.ProductsScored++
	}
	return ranked, nil
}

// stopScoring records a deadline cut. interrupted is the product that was
// being scored when the deadline passed, if any.
func (r *Runner) stopScoring(sum *Summary, products int, interrupted string) {
	sum.Partial = true
	r.logger.Warn("Scoring deadline reached",
		"scored", sum.ProductsScored, "products", products, "interrupted", interrupted)
}
