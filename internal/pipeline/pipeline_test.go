package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshroute/expiry-engine/internal/analytics"
	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/lock"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/notifications"
	"github.com/freshroute/expiry-engine/internal/risk"
	"github.com/freshroute/expiry-engine/internal/scoring"
	"github.com/freshroute/expiry-engine/internal/store/memstore"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clock() time.Time { return now }

// newStoreRunner wires the real stages over a memstore with a fixed clock.
func newStoreRunner(st *memstore.Store, locker lock.Locker) *Runner {
	a := analytics.New(st, 0, discard())
	a.Now = clock
	d := risk.New(st, discard())
	d.Now = clock
	s := scoring.New(st, scoring.DefaultOptions(), discard())
	s.Now = clock
	e := notifications.NewEmitter(st, 5, 24*time.Hour, discard())
	e.Now = clock

	return New(Stages{Analytics: a, Risk: d, Scoring: s, Notify: e}, locker,
		Config{TopRetailers: 5, LockTTL: time.Minute}, discard())
}

// seedScenario creates one product sold every ten days, eight retailers and
// one batch four days from expiry.
func seedScenario(st *memstore.Store) {
	st.AddProduct(model.Product{ID: "p-1", Name: "Greek Yogurt", Category: "dairy", Unit: "cup"})
	st.AddUser(model.User{ID: "m-1", ShopName: "Fresh Wholesale", Role: model.RoleMerchandiser, IsActive: true})
	for i := 1; i <= 8; i++ {
		st.AddUser(model.User{
			ID: fmt.Sprintf("r-%d", i), ShopName: fmt.Sprintf("Shop %d", i),
			Role: model.RoleRetailer, IsActive: true,
		})
	}

	st.AddBatch(model.InventoryBatch{ID: "b-old", ProductID: "p-1", MerchandiserID: "m-1", Quantity: 0, ExpiryDate: now.Add(-48 * time.Hour)})
	for i, days := range []int{30, 20, 10} {
		st.AddOrder(model.Order{
			ID:             fmt.Sprintf("o-%d", i+1),
			RetailerID:     fmt.Sprintf("r-%d", i+1),
			MerchandiserID: "m-1",
			Status:         model.OrderStatusCompleted,
			CreatedAt:      now.Add(-time.Duration(days) * 24 * time.Hour),
			Items:          []model.OrderItem{{ID: fmt.Sprintf("oi-%d", i+1), InventoryBatchID: "b-old", Quantity: 5}},
		})
	}

	st.AddBatch(model.InventoryBatch{
		ID: "b-1", ProductID: "p-1", MerchandiserID: "m-1", Quantity: 50,
		SellingPrice: decimal.RequireFromString("2.40"), ExpiryDate: now.Add(96 * time.Hour),
	})
}

func TestRun_EndToEnd(t *testing.T) {
	st := memstore.New()
	seedScenario(st)
	r := newStoreRunner(st, lock.NewLocal())

	sum, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.AtRiskCount)
	assert.Equal(t, 5, sum.NotificationsCreated)
	assert.Equal(t, 0, sum.NotificationsSkipped)
	assert.Equal(t, 1, sum.ProductsAnalyzed)
	assert.Equal(t, 1, sum.ProductsScored)

	a, ok := st.Analytics("p-1")
	require.True(t, ok)
	assert.Equal(t, 10, a.DynamicThresholdDays)

	require.Len(t, sum.Batches, 1)
	b := sum.Batches[0]
	assert.Equal(t, "b-1", b.BatchID)
	assert.Equal(t, "Greek Yogurt", b.Product)
	assert.Equal(t, "dairy", b.Category)
	assert.Equal(t, 4, b.DaysRemaining)
	assert.Equal(t, 0.6, b.UrgencyScore)
	assert.Equal(t, 50, b.Quantity)
	require.Len(t, b.TopRetailers, 5)
	for i := 1; i < len(b.TopRetailers); i++ {
		assert.GreaterOrEqual(t, b.TopRetailers[i-1].CompositeScore, b.TopRetailers[i].CompositeScore)
	}

	rows := st.Notifications()
	require.Len(t, rows, 5)
	for _, n := range rows {
		assert.Equal(t, "b-1", n.InventoryBatchID)
		assert.Equal(t, 0.6, n.UrgencyScore)
	}

	last, ok := r.LastRun()
	require.True(t, ok)
	assert.Equal(t, 5, last.NotificationsCreated)
}

func TestRun_RerunInsideWindowSkips(t *testing.T) {
	st := memstore.New()
	seedScenario(st)
	r := newStoreRunner(st, lock.NewLocal())

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	sum, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, sum.NotificationsCreated)
	assert.Equal(t, 5, sum.NotificationsSkipped)
	assert.Len(t, st.Notifications(), 5)
}

func TestRun_NothingAtRisk(t *testing.T) {
	st := memstore.New()
	st.AddProduct(model.Product{ID: "p-1", Name: "Rice", Category: "dry"})
	st.AddBatch(model.InventoryBatch{ID: "b-1", ProductID: "p-1", Quantity: 10, ExpiryDate: now.Add(90 * 24 * time.Hour)})

	sum, err := newStoreRunner(st, lock.NewLocal()).Run(context.Background())

	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, 0, sum.AtRiskCount)
	assert.Equal(t, 0, sum.NotificationsCreated)
	assert.Empty(t, sum.Batches)
	assert.NotNil(t, sum.Batches)
}

func TestRun_ConflictWhileLocked(t *testing.T) {
	st := memstore.New()
	seedScenario(st)
	locker := lock.NewLocal()
	release, ok, err := locker.TryLock(context.Background(), runLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	r := newStoreRunner(st, locker)
	sum, err := r.Run(context.Background())

	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.False(t, sum.Success)
	assert.Empty(t, st.Notifications())
	_, ran := r.LastRun()
	assert.False(t, ran, "a rejected run is not recorded")
}

func TestRun_PersistenceFailureFailsRun(t *testing.T) {
	st := memstore.New()
	seedScenario(st)
	st.FailOn("ListSellableBatches", errors.New("connection reset"))
	r := newStoreRunner(st, lock.NewLocal())

	sum, err := r.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.False(t, sum.Success)
	assert.Contains(t, sum.Error, "risk detection")
	assert.Zero(t, sum.AtRiskCount)

	last, ok := r.LastRun()
	require.True(t, ok)
	assert.False(t, last.Success)
}

func TestRun_StaleThresholdIsNotUsed(t *testing.T) {
	st := memstore.New()
	seedScenario(st)
	require.NoError(t, st.UpsertProductAnalytics(context.Background(), model.ProductAnalytics{
		ProductID: "p-1", AvgDaysToSell: 80, StdDevDays: 10, DynamicThresholdDays: 100,
		LastComputedAt: now.AddDate(-1, 0, 0),
	}))
	st.FailOn("ListOrderLines", errors.New("statement timeout"))
	r := newStoreRunner(st, lock.NewLocal())

	sum, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.AnalyticsFailed)
	assert.Equal(t, 0, sum.AtRiskCount)
	assert.Equal(t, 0, sum.NotificationsCreated)
	assert.Empty(t, st.Notifications())

	a, ok := st.Analytics("p-1")
	require.True(t, ok)
	assert.Equal(t, 100, a.DynamicThresholdDays, "the old row is left in place")
}

// ----- stage doubles -----

type fixedAnalytics struct{}

func (fixedAnalytics) Run(context.Context) (analytics.Result, error) {
	return analytics.Result{ProductsFound: 2, Computed: 2}, nil
}

type fixedRisk []risk.AtRiskBatch

func (f fixedRisk) DetectFresh(context.Context, map[string]bool) ([]risk.AtRiskBatch, error) {
	return f, nil
}

type failingScorer struct{ fail string }

func (f failingScorer) ScoreProduct(_ context.Context, productID string) ([]scoring.ScoredRetailer, error) {
	if productID == f.fail {
		return nil, apperr.Persistence("ListActiveRetailers", errors.New("timeout"))
	}
	return []scoring.ScoredRetailer{{RetailerID: "r-1", CompositeScore: 0.8}}, nil
}

type recordingEmitter struct{ got []string }

func (e *recordingEmitter) Emit(_ context.Context, batches []risk.AtRiskBatch, _ map[string][]scoring.ScoredRetailer) (notifications.EmitResult, error) {
	for _, b := range batches {
		e.got = append(e.got, b.ID)
	}
	return notifications.EmitResult{Created: len(batches)}, nil
}

func batch(id, productID string) risk.AtRiskBatch {
	return risk.AtRiskBatch{BatchDetail: model.BatchDetail{
		InventoryBatch: model.InventoryBatch{ID: id, ProductID: productID},
		Product:        model.Product{ID: productID},
	}}
}

func TestRun_ScoringFailureIsIsolated(t *testing.T) {
	em := &recordingEmitter{}
	r := New(Stages{
		Analytics: fixedAnalytics{},
		Risk:      fixedRisk{batch("b-1", "p-1"), batch("b-2", "p-2"), batch("b-3", "p-1")},
		Scoring:   failingScorer{fail: "p-2"},
		Notify:    em,
	}, lock.NewLocal(), Config{}, discard())

	sum, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, 3, sum.AtRiskCount)
	assert.Equal(t, 1, sum.ProductsScored)
	assert.Equal(t, 1, sum.ScoringFailed)
	assert.Equal(t, []string{"b-1", "b-3"}, em.got)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "p-2")
	require.Len(t, sum.Batches, 3)
	assert.Empty(t, sum.Batches[1].TopRetailers)
}

// stuckScorer blocks on one product until its context ends.
type stuckScorer struct{ stuck string }

func (s stuckScorer) ScoreProduct(ctx context.Context, productID string) ([]scoring.ScoredRetailer, error) {
	if productID == s.stuck {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []scoring.ScoredRetailer{{RetailerID: "r-1", CompositeScore: 0.5}}, nil
}

func TestRun_ScoringDeadlineReportsPartial(t *testing.T) {
	em := &recordingEmitter{}
	r := New(Stages{
		Analytics: fixedAnalytics{},
		Risk:      fixedRisk{batch("b-1", "p-1"), batch("b-2", "p-stuck"), batch("b-3", "p-3")},
		Scoring:   stuckScorer{stuck: "p-stuck"},
		Notify:    em,
	}, lock.NewLocal(), Config{ScoringDeadline: 50 * time.Millisecond}, discard())

	done := make(chan struct{})
	var sum Summary
	var err error
	go func() {
		sum, err = r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop at the scoring deadline")
	}
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.True(t, sum.Partial)
	assert.Equal(t, 1, sum.ProductsScored)
	assert.Equal(t, 0, sum.ScoringFailed)
	assert.Equal(t, []string{"b-1"}, em.got)
	require.Len(t, sum.Batches, 3)
	assert.Empty(t, sum.Batches[1].TopRetailers)
	assert.Empty(t, sum.Batches[2].TopRetailers)
}

func TestSummary_Text(t *testing.T) {
	ok := Summary{Success: true, AtRiskCount: 2, NotificationsCreated: 5, ElapsedMs: 12}
	assert.Contains(t, ok.Text(), "at_risk=2 created=5")

	failed := Summary{Error: "boom"}
	assert.Equal(t, `success=false error="boom" elapsed=0ms`, failed.Text())
}
