package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/store/memstore"
)

// seedInbox builds a store with one retailer, one merchandiser and two live
// batches plus one expired batch, each notified once.
func seedInbox(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	st.AddUser(model.User{ID: "r-1", ShopName: "Corner Shop", Role: model.RoleRetailer, IsActive: true})
	st.AddUser(model.User{ID: "m-1", ShopName: "Fresh Wholesale", Role: model.RoleMerchandiser, IsActive: true})
	st.AddProduct(model.Product{ID: "p-1", Name: "Yogurt", Brand: "Dairyland", Category: "dairy", Unit: "cup"})

	batches := []model.InventoryBatch{
		{ID: "b-soon", ProductID: "p-1", MerchandiserID: "m-1", Quantity: 50, SellingPrice: decimal.RequireFromString("1.25"), ExpiryDate: now.Add(36 * time.Hour)},
		{ID: "b-later", ProductID: "p-1", MerchandiserID: "m-1", Quantity: 10, SellingPrice: decimal.RequireFromString("1.10"), ExpiryDate: now.Add(7 * 24 * time.Hour)},
		{ID: "b-gone", ProductID: "p-1", MerchandiserID: "m-1", Quantity: 10, ExpiryDate: now.Add(-time.Hour)},
	}
	urgencies := []float64{0.8, 0.3, 0.95}
	for i, b := range batches {
		st.AddBatch(b)
		st.AddNotification(model.NotificationLog{
			ID:               fmt.Sprintf("n-%d", i+1),
			RetailerID:       "r-1",
			InventoryBatchID: b.ID,
			UrgencyScore:     urgencies[i],
			RetailerRank:     1,
			Outcome:          model.OutcomePending,
			SentAt:           now.Add(-time.Duration(i) * time.Hour),
		})
	}
	return st
}

func newTestService(st ServiceStore) *Service {
	s := NewService(st, discard())
	s.Now = func() time.Time { return now }
	return s
}

// ----- UpdateOutcome -----

func TestUpdateOutcome_PendingToViewed(t *testing.T) {
	st := seedInbox(t)

	res, err := newTestService(st).UpdateOutcome(context.Background(), "n-1", "viewed")

	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, model.OutcomeViewed, res.Notification.Outcome)
	require.NotNil(t, res.Notification.ViewedAt)
	assert.Equal(t, now, *res.Notification.ViewedAt)
}

func TestUpdateOutcome_IgnoredThenViewedIsNoop(t *testing.T) {
	st := seedInbox(t)
	svc := newTestService(st)

	_, err := svc.UpdateOutcome(context.Background(), "n-1", "ignored")
	require.NoError(t, err)
	res, err := svc.UpdateOutcome(context.Background(), "n-1", "viewed")

	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, model.OutcomeIgnored, res.Notification.Outcome)

	stored, err := svc.Get(context.Background(), "n-1")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, stored.Outcome)
}

func TestUpdateOutcome_RejectsUnknownAction(t *testing.T) {
	_, err := newTestService(seedInbox(t)).UpdateOutcome(context.Background(), "n-1", "pending")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestUpdateOutcome_UnknownNotification(t *testing.T) {
	_, err := newTestService(seedInbox(t)).UpdateOutcome(context.Background(), "n-404", "viewed")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// ----- Inbox -----

func TestInbox_ListsOnlySellableBatchesByUrgency(t *testing.T) {
	st := seedInbox(t)

	inbox, err := newTestService(st).Inbox(context.Background(), model.InboxQuery{RetailerID: "r-1"})

	require.NoError(t, err)
	assert.Equal(t, "Corner Shop", inbox.Retailer.ShopName)
	require.Len(t, inbox.Notifications, 2)
	assert.Equal(t, "n-1", inbox.Notifications[0].NotificationID)
	assert.Equal(t, "n-2", inbox.Notifications[1].NotificationID)

	first := inbox.Notifications[0]
	assert.Equal(t, 2, first.Batch.DaysRemaining)
	assert.Equal(t, "1.25", first.Batch.SellingPrice.StringFixed(2))
	assert.Equal(t, "Yogurt", first.Product.Name)

	assert.Equal(t, 2, inbox.Summary.Total)
	assert.Equal(t, 1, inbox.Summary.UrgentCount)
	assert.Equal(t, 2, inbox.Summary.PendingCount)
	assert.Equal(t, Pagination{Page: 1, Limit: 20, Total: 2, TotalPages: 1}, inbox.Pagination)
}

func TestInbox_OutcomeFilterAndPaging(t *testing.T) {
	st := seedInbox(t)
	svc := newTestService(st)
	_, err := svc.UpdateOutcome(context.Background(), "n-2", "viewed")
	require.NoError(t, err)

	inbox, err := svc.Inbox(context.Background(), model.InboxQuery{
		RetailerID: "r-1", Outcome: model.OutcomePending, Page: model.Page{Page: 1, Limit: 500},
	})

	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, "n-1", inbox.Notifications[0].NotificationID)
	assert.Equal(t, 100, inbox.Pagination.Limit)

	page2, err := svc.Inbox(context.Background(), model.InboxQuery{RetailerID: "r-1", Page: model.Page{Page: 2, Limit: 1}})
	require.NoError(t, err)
	require.Len(t, page2.Notifications, 1)
	assert.Equal(t, "n-2", page2.Notifications[0].NotificationID)
	assert.False(t, page2.Pagination.HasMore)
	assert.Equal(t, 2, page2.Pagination.TotalPages)
}

func TestInbox_Errors(t *testing.T) {
	svc := newTestService(seedInbox(t))
	ctx := context.Background()

	_, err := svc.Inbox(ctx, model.InboxQuery{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.Inbox(ctx, model.InboxQuery{RetailerID: "nobody"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Inbox(ctx, model.InboxQuery{RetailerID: "m-1"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Inbox(ctx, model.InboxQuery{RetailerID: "r-1", Outcome: "archived"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

// ----- History -----

func TestHistory_StatsCoverEveryNotification(t *testing.T) {
	st := seedInbox(t)
	svc := newTestService(st)
	ctx := context.Background()
	_, err := svc.UpdateOutcome(ctx, "n-1", "ordered")
	require.NoError(t, err)
	_, err = svc.UpdateOutcome(ctx, "n-2", "viewed")
	require.NoError(t, err)

	h, err := svc.History(ctx, model.HistoryQuery{MerchandiserID: "m-1", Page: model.Page{Page: 1, Limit: 2}})

	require.NoError(t, err)
	assert.Equal(t, HistoryStats{
		TotalSent: 3, TotalViewed: 2, TotalOrdered: 1,
		ConversionRate: 33.3, ViewRate: 66.7,
	}, h.Stats)
	require.Len(t, h.Notifications, 2)
	assert.Equal(t, "n-1", h.Notifications[0].NotificationID, "newest first")
	assert.Equal(t, "Corner Shop", h.Notifications[0].Retailer.ShopName)
	assert.Equal(t, "Yogurt", h.Notifications[0].Batch.Product)
	assert.True(t, h.Pagination.HasMore)
}

func TestHistory_RequiresMerchandiser(t *testing.T) {
	svc := newTestService(seedInbox(t))

	_, err := svc.History(context.Background(), model.HistoryQuery{MerchandiserID: "r-1"})

	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
