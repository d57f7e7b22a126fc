package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/risk"
	"github.com/freshroute/expiry-engine/internal/scoring"
	"github.com/freshroute/expiry-engine/internal/store/memstore"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func atRisk(id, productID string, urgency float64) risk.AtRiskBatch {
	return risk.AtRiskBatch{
		BatchDetail:  model.BatchDetail{InventoryBatch: model.InventoryBatch{ID: id, ProductID: productID}},
		UrgencyScore: urgency,
	}
}

func rankedRetailers(n int) []scoring.ScoredRetailer {
	out := make([]scoring.ScoredRetailer, n)
	for i := range out {
		out[i] = scoring.ScoredRetailer{RetailerID: fmt.Sprintf("r-%d", i+1), CompositeScore: 1 - float64(i)/10}
	}
	return out
}

func newTestEmitter(st EmitStore, clock *time.Time) *Emitter {
	e := NewEmitter(st, 5, 24*time.Hour, discard())
	e.Now = func() time.Time { return *clock }
	seq := 0
	e.NewID = func() string {
		seq++
		return fmt.Sprintf("n-%d", seq)
	}
	return e
}

func TestEmit_TopFivePerBatchWithRanks(t *testing.T) {
	st := memstore.New()
	clock := now
	e := newTestEmitter(st, &clock)

	res, err := e.Emit(context.Background(),
		[]risk.AtRiskBatch{atRisk("b-1", "p-1", 0.6)},
		map[string][]scoring.ScoredRetailer{"p-1": rankedRetailers(8)})

	require.NoError(t, err)
	assert.Equal(t, 5, res.Created)
	assert.Equal(t, 0, res.Skipped)

	rows := st.Notifications()
	require.Len(t, rows, 5)
	for i, n := range rows {
		assert.Equal(t, fmt.Sprintf("r-%d", i+1), n.RetailerID)
		assert.Equal(t, i+1, n.RetailerRank)
		assert.Equal(t, model.OutcomePending, n.Outcome)
		assert.Equal(t, 0.6, n.UrgencyScore)
		assert.Equal(t, now, n.SentAt)
		assert.Nil(t, n.ViewedAt)
	}
}

func TestEmit_FewerRetailersThanTopN(t *testing.T) {
	st := memstore.New()
	clock := now

	res, err := newTestEmitter(st, &clock).Emit(context.Background(),
		[]risk.AtRiskBatch{atRisk("b-1", "p-1", 0.5)},
		map[string][]scoring.ScoredRetailer{"p-1": rankedRetailers(2)})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
}

func TestEmit_RerunInsideWindowSkipsEverything(t *testing.T) {
	st := memstore.New()
	clock := now
	e := newTestEmitter(st, &clock)
	batches := []risk.AtRiskBatch{atRisk("b-1", "p-1", 0.6)}
	ranked := map[string][]scoring.ScoredRetailer{"p-1": rankedRetailers(8)}

	_, err := e.Emit(context.Background(), batches, ranked)
	require.NoError(t, err)

	clock = now.Add(23 * time.Hour)
	res, err := e.Emit(context.Background(), batches, ranked)

	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 5, res.Skipped)
	assert.Len(t, st.Notifications(), 5)
}

func TestEmit_AfterWindowNotifiesAgain(t *testing.T) {
	st := memstore.New()
	clock := now
	e := newTestEmitter(st, &clock)
	batches := []risk.AtRiskBatch{atRisk("b-1", "p-1", 0.6)}
	ranked := map[string][]scoring.ScoredRetailer{"p-1": rankedRetailers(1)}

	_, err := e.Emit(context.Background(), batches, ranked)
	require.NoError(t, err)

	clock = now.Add(24*time.Hour + time.Second)
	res, err := e.Emit(context.Background(), batches, ranked)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Len(t, st.Notifications(), 2)
}

func TestEmit_BatchWithoutRetailersIsCountedNotFatal(t *testing.T) {
	st := memstore.New()
	clock := now

	res, err := newTestEmitter(st, &clock).Emit(context.Background(),
		[]risk.AtRiskBatch{atRisk("b-1", "p-orphan", 0.9), atRisk("b-2", "p-1", 0.5)},
		map[string][]scoring.ScoredRetailer{"p-1": rankedRetailers(1)})

	require.NoError(t, err)
	assert.Equal(t, 1, res.BatchesWithoutRetailers)
	assert.Equal(t, 1, res.Created)
}

func TestEmit_StoreFailureIsFatal(t *testing.T) {
	st := memstore.New()
	st.FailOn("CreateNotificationIfAbsent", errors.New("connection reset"))
	clock := now

	_, err := newTestEmitter(st, &clock).Emit(context.Background(),
		[]risk.AtRiskBatch{atRisk("b-1", "p-1", 0.6)},
		map[string][]scoring.ScoredRetailer{"p-1": rankedRetailers(3)})

	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Empty(t, st.Notifications())
}

func TestEmit_ConcurrentRunsNeverDuplicateAPair(t *testing.T) {
	st := memstore.New()
	batches := []risk.AtRiskBatch{atRisk("b-1", "p-1", 0.6), atRisk("b-2", "p-1", 0.4)}
	ranked := map[string][]scoring.ScoredRetailer{"p-1": rankedRetailers(5)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := NewEmitter(st, 5, 24*time.Hour, discard())
			e.Now = func() time.Time { return now }
			_, err := e.Emit(context.Background(), batches, ranked)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, n := range st.Notifications() {
		key := n.RetailerID + "/" + n.InventoryBatchID
		assert.False(t, seen[key], "duplicate notification for %s", key)
		seen[key] = true
	}
	assert.Len(t, seen, 10)
}

func TestTopN(t *testing.T) {
	assert.Len(t, TopN(rankedRetailers(8), 5), 5)
	assert.Len(t, TopN(rankedRetailers(3), 5), 3)
	assert.Empty(t, TopN(nil, 5))
}
