package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/store/memstore"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScorer(st Store) *Scorer {
	s := New(st, DefaultOptions(), discard())
	s.Now = func() time.Time { return now }
	return s
}

func seedRetailers(st *memstore.Store, ids ...string) {
	for _, id := range ids {
		st.AddUser(model.User{ID: id, Name: "Owner " + id, ShopName: "Shop " + id, Role: model.RoleRetailer, IsActive: true})
	}
}

func daysAgo(d float64) time.Time {
	return now.Add(-time.Duration(d * float64(24*time.Hour)))
}

// ----- Weights -----

func TestWeights_DefaultIsValid(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
}

func TestWeights_Validate(t *testing.T) {
	cases := []struct {
		name string
		w    Weights
	}{
		{"sum above one", Weights{Frequency: 0.5, Volume: 0.5, Recency: 0.5}},
		{"sum below one", Weights{Frequency: 0.1}},
		{"negative", Weights{Frequency: -0.2, Volume: 0.4, Recency: 0.4, SellThrough: 0.2, Reliability: 0.2}},
		{"nan", Weights{Frequency: math.NaN(), Volume: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.w.Validate(), apperr.ErrInvalid)
		})
	}
}

// ----- Signal math -----

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{1, 0.5, 0}, Normalize([]float64{4, 2, 0}))
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, Normalize([]float64{3, 3, 3}))
	assert.Equal(t, []float64{0.5}, Normalize([]float64{7}))
	assert.Empty(t, Normalize(nil))
}

func TestNormalize_StaysInUnitRange(t *testing.T) {
	for _, v := range Normalize([]float64{-3, 0.25, 12, 7, 7}) {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestRecency(t *testing.T) {
	assert.Equal(t, 1.0, Recency(0, 0.05))
	assert.Equal(t, 0.6065, Recency(10*24*time.Hour, 0.05))
	assert.Equal(t, 1.0, Recency(-time.Hour, 0.05))
}

func TestSellThroughAndReliability(t *testing.T) {
	assert.Equal(t, 0.0, SellThrough(0, 0))
	assert.Equal(t, 0.75, SellThrough(30, 10))
	assert.Equal(t, 0.5, Reliability(0, 0))
	assert.Equal(t, 0.25, Reliability(4, 1))
}

func TestComposite_IsConvex(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, 1.0, Composite(w, Signals{1, 1, 1, 1, 1}))
	assert.Equal(t, 0.0, Composite(w, Signals{}))
	assert.Equal(t, 0.425, Composite(w, Signals{0.5, 0.5, 0, 0.5, 0.5}))
}

// ----- ScoreProduct -----

func TestScoreProduct_RanksByComposite(t *testing.T) {
	st := memstore.New()
	st.AddProduct(model.Product{ID: "p-1", Category: "dairy"})
	st.AddProduct(model.Product{ID: "p-2", Category: "dairy"})
	st.AddProduct(model.Product{ID: "p-3", Category: "bakery"})
	st.AddBatch(model.InventoryBatch{ID: "b-dairy", ProductID: "p-2"})
	st.AddBatch(model.InventoryBatch{ID: "b-bread", ProductID: "p-3"})
	seedRetailers(st, "r-1", "r-2", "r-3")
	st.AddUser(model.User{ID: "m-1", Role: model.RoleMerchandiser, IsActive: true})

	st.AddOrder(model.Order{ID: "o-1", RetailerID: "r-1", Status: model.OrderStatusCompleted, CreatedAt: daysAgo(1),
		Items: []model.OrderItem{{InventoryBatchID: "b-dairy", Quantity: 10}}})
	st.AddOrder(model.Order{ID: "o-2", RetailerID: "r-1", Status: model.OrderStatusCompleted, CreatedAt: daysAgo(3),
		Items: []model.OrderItem{{InventoryBatchID: "b-dairy", Quantity: 10}}})
	st.AddOrder(model.Order{ID: "o-3", RetailerID: "r-2", Status: model.OrderStatusCancelled, CreatedAt: daysAgo(10),
		Items: []model.OrderItem{{InventoryBatchID: "b-dairy", Quantity: 4}}})
	st.AddDailySale(model.DailySale{RetailerID: "r-1", ProductID: "p-1", Quantity: 30, Date: daysAgo(5)})
	st.SetRetailerStock("r-1", "p-1", 10)
	st.SetRetailerStock("r-2", "p-1", 5)

	ranked, err := newScorer(st).ScoreProduct(context.Background(), "p-1")

	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"r-1", "r-2", "r-3"},
		[]string{ranked[0].RetailerID, ranked[1].RetailerID, ranked[2].RetailerID})

	top := ranked[0]
	assert.Equal(t, "Shop r-1", top.ShopName)
	assert.Equal(t, Signals{Frequency: 1, Volume: 1, Recency: 0.9512, SellThrough: 1, Reliability: 1}, top.Scores)
	assert.InDelta(t, 0.9927, top.CompositeScore, 1e-9)

	assert.Equal(t, Signals{Frequency: 0.5, Volume: 0.4, Recency: 0.6065, SellThrough: 0, Reliability: 0}, ranked[1].Scores)
	assert.InDelta(t, 0.271, ranked[1].CompositeScore, 1e-9)

	assert.Equal(t, Signals{Reliability: 0.5}, ranked[2].Scores)
	assert.InDelta(t, 0.1, ranked[2].CompositeScore, 1e-9)

	persisted, ok := st.Score("r-1", "p-1")
	require.True(t, ok)
	assert.Equal(t, top.CompositeScore, persisted.CompositeScore)
	assert.Equal(t, now, persisted.LastUpdated)
}

func TestScoreProduct_AllTiedSignalsAreHalf(t *testing.T) {
	st := memstore.New()
	st.AddProduct(model.Product{ID: "p-1", Category: "dairy"})
	seedRetailers(st, "r-1", "r-2")

	ranked, err := newScorer(st).ScoreProduct(context.Background(), "p-1")

	require.NoError(t, err)
	for _, r := range ranked {
		assert.Equal(t, Signals{Frequency: 0.5, Volume: 0.5, Recency: 0, SellThrough: 0.5, Reliability: 0.5}, r.Scores)
		assert.Equal(t, 0.425, r.CompositeScore)
	}
	assert.Equal(t, "r-1", ranked[0].RetailerID, "ties break by retailer id")
}

func TestScoreProduct_OrdersOutsideWindowOnlyCountForRecency(t *testing.T) {
	st := memstore.New()
	st.AddProduct(model.Product{ID: "p-1", Category: "dairy"})
	st.AddBatch(model.InventoryBatch{ID: "b-1", ProductID: "p-1"})
	seedRetailers(st, "r-1", "r-2")
	st.AddOrder(model.Order{ID: "o-1", RetailerID: "r-1", CreatedAt: daysAgo(181),
		Items: []model.OrderItem{{InventoryBatchID: "b-1", Quantity: 3}}})

	ranked, err := newScorer(st).ScoreProduct(context.Background(), "p-1")

	require.NoError(t, err)
	byID := map[string]Signals{}
	for _, r := range ranked {
		byID[r.RetailerID] = r.Scores
	}
	assert.Equal(t, 0.5, byID["r-1"].Frequency)
	assert.Equal(t, 0.5, byID["r-1"].Volume)
	assert.Greater(t, byID["r-1"].Recency, 0.0)
	assert.Equal(t, 0.0, byID["r-2"].Recency)
}

func TestScoreProduct_MissingProductZeroesCategorySignals(t *testing.T) {
	st := memstore.New()
	seedRetailers(st, "r-1", "r-2")

	ranked, err := newScorer(st).ScoreProduct(context.Background(), "p-gone")

	require.NoError(t, err)
	require.Len(t, ranked, 2)
	for _, r := range ranked {
		assert.Equal(t, 0.0, r.Scores.Frequency)
		assert.Equal(t, 0.0, r.Scores.Volume)
		assert.Equal(t, 0.0, r.Scores.Recency)
		assert.Equal(t, 0.5, r.Scores.SellThrough)
		assert.Equal(t, 0.5, r.Scores.Reliability)
		assert.Equal(t, 0.225, r.CompositeScore)
	}
}

func TestScoreProduct_NoRetailers(t *testing.T) {
	st := memstore.New()
	st.AddProduct(model.Product{ID: "p-1"})

	ranked, err := newScorer(st).ScoreProduct(context.Background(), "p-1")

	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestScoreProduct_SignalFailureAbortsWithoutPersisting(t *testing.T) {
	st := memstore.New()
	st.AddProduct(model.Product{ID: "p-1", Category: "dairy"})
	seedRetailers(st, "r-1", "r-2")
	st.FailOn("CountCategoryOrders", errors.New("read timeout"))

	_, err := newScorer(st).ScoreProduct(context.Background(), "p-1")

	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.ErrorContains(t, err, "frequency")
	_, ok := st.Score("r-1", "p-1")
	assert.False(t, ok)
}

func TestScoreProduct_BoundedConcurrencyStillScoresEveryone(t *testing.T) {
	st := memstore.New()
	st.AddProduct(model.Product{ID: "p-1", Category: "dairy"})
	ids := []string{"r-01", "r-02", "r-03", "r-04", "r-05", "r-06", "r-07", "r-08", "r-09", "r-10"}
	seedRetailers(st, ids...)

	opts := DefaultOptions()
	opts.Concurrency = 2
	s := New(st, opts, discard())
	s.Now = func() time.Time { return now }

	ranked, err := s.ScoreProduct(context.Background(), "p-1")

	require.NoError(t, err)
	assert.Len(t, ranked, len(ids))
	for _, id := range ids {
		_, ok := st.Score(id, "p-1")
		assert.True(t, ok, id)
	}
}
