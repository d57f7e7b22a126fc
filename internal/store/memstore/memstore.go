// Package memstore is a mutex-guarded in-memory store implementing every
// stage's store interface. It backs the unit and pipeline tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
)

type pairKey struct {
	retailerID string
	productID  string
}

// Store holds every table in maps keyed by id.
type Store struct {
	mu sync.Mutex

	products  map[string]model.Product
	users     map[string]model.User
	batches   map[string]model.InventoryBatch
	orders    []model.Order
	sales     []model.DailySale
	stock     map[pairKey]int
	analytics map[string]model.ProductAnalytics
	scores    map[pairKey]model.RetailerScore

	notifications []*model.NotificationLog
	byID          map[string]*model.NotificationLog

	failures map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		products:  make(map[string]model.Product),
		users:     make(map[string]model.User),
		batches:   make(map[string]model.InventoryBatch),
		stock:     make(map[pairKey]int),
		analytics: make(map[string]model.ProductAnalytics),
		scores:    make(map[pairKey]model.RetailerScore),
		byID:      make(map[string]*model.NotificationLog),
		failures:  make(map[string]error),
	}
}

// --------------------------------------------------------------------------
// Seeding
// --------------------------------------------------------------------------

func (s *Store) AddProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddBatch(b model.InventoryBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
}

func (s *Store) AddOrder(o model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
}

func (s *Store) AddDailySale(d model.DailySale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, d)
}

func (s *Store) SetRetailerStock(retailerID, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[pairKey{retailerID, productID}] = qty
}

// AddNotification inserts a row as-is, bypassing the dedup window.
func (s *Store) AddNotification(n model.NotificationLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(n)
}

// FailOn makes the named operation return err until cleared with a nil err.
// Operation names match the method names.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// failLocked returns the injected failure for op, if any.
func (s *Store) failLocked(op string) error {
	if err, ok := s.failures[op]; ok {
		return apperr.Persistence(op, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Accessors for assertions
// --------------------------------------------------------------------------

// Analytics returns the stored analytics row for a product.
func (s *Store) Analytics(productID string) (model.ProductAnalytics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analytics[productID]
	return a, ok
}

// Score returns the stored score row for a (retailer, product) pair.
func (s *Store) Score(retailerID, productID string) (model.RetailerScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[pairKey{retailerID, productID}]
	return sc, ok
}

// Notifications returns copies of every notification in insertion order.
func (s *Store) Notifications() []model.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.NotificationLog, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, *n)
	}
	return out
}

// --------------------------------------------------------------------------
// Analytics stage
// --------------------------------------------------------------------------

func (s *Store) ListProductsWithBatches(_ context.Context) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListProductsWithBatches"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []model.Product
	for _, b := range s.batches {
		if seen[b.ProductID] {
			continue
		}
		if p, ok := s.products[b.ProductID]; ok {
			seen[b.ProductID] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListOrderLines(_ context.Context, productID string) ([]model.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListOrderLines"); err != nil {
		return nil, err
	}

	var out []model.OrderLine
	for _, o := range s.orders {
		for _, it := range o.Items {
			if b, ok := s.batches[it.InventoryBatchID]; ok && b.ProductID == productID {
				out = append(out, model.OrderLine{OrderID: o.ID, CreatedAt: o.CreatedAt, Quantity: it.Quantity})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpsertProductAnalytics(_ context.Context, a model.ProductAnalytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("UpsertProductAnalytics"); err != nil {
		return err
	}
	s.analytics[a.ProductID] = a
	return nil
}

// --------------------------------------------------------------------------
// Risk stage
// --------------------------------------------------------------------------

func (s *Store) ListProductAnalytics(_ context.Context) ([]model.ProductAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListProductAnalytics"); err != nil {
		return nil, err
	}
	out := make([]model.ProductAnalytics, 0, len(s.analytics))
	for _, a := range s.analytics {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Store) ListSellableBatches(_ context.Context, now time.Time) ([]model.BatchDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListSellableBatches"); err != nil {
		return nil, err
	}

	var out []model.BatchDetail
	for _, b := range s.batches {
		if !b.Sellable(now) {
			continue
		}
		out = append(out, model.BatchDetail{InventoryBatch: b, Product: s.products[b.ProductID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --------------------------------------------------------------------------
// Scoring stage
// --------------------------------------------------------------------------

func (s *Store) ListActiveRetailers(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListActiveRetailers"); err != nil {
		return nil, err
	}
	var out []model.User
	for _, u := range s.users {
		if u.IsRetailer() && u.IsActive {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("GetProduct"); err != nil {
		return model.Product{}, err
	}
	p, ok := s.products[id]
	if !ok {
		return model.Product{}, apperr.NotFound("product", id)
	}
	return p, nil
}

// categoryItemsLocked calls fn for every order of retailerID created at or
// after since with the items that fall in category.
func (s *Store) categoryItemsLocked(retailerID, category string, since time.Time, fn func(o model.Order, items []model.OrderItem)) {
	for _, o := range s.orders {
		if o.RetailerID != retailerID || o.CreatedAt.Before(since) {
			continue
		}
		var matched []model.OrderItem
		for _, it := range o.Items {
			b, ok := s.batches[it.InventoryBatchID]
			if !ok {
				continue
			}
			if p, ok := s.products[b.ProductID]; ok && p.Category == category {
				matched = append(matched, it)
			}
		}
		if len(matched) > 0 {
			fn(o, matched)
		}
	}
}

func (s *Store) CountCategoryOrders(_ context.Context, retailerID, category string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("CountCategoryOrders"); err != nil {
		return 0, err
	}
	n := 0
	s.categoryItemsLocked(retailerID, category, since, func(model.Order, []model.OrderItem) { n++ })
	return n, nil
}

func (s *Store) AvgCategoryItemQuantity(_ context.Context, retailerID, category string, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("AvgCategoryItemQuantity"); err != nil {
		return 0, err
	}
	total, count := 0, 0
	s.categoryItemsLocked(retailerID, category, since, func(_ model.Order, items []model.OrderItem) {
		for _, it := range items {
			total += it.Quantity
			count++
		}
	})
	if count == 0 {
		return 0, nil
	}
	return float64(total) / float64(count), nil
}

func (s *Store) LastCategoryOrderAt(_ context.Context, retailerID, category string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("LastCategoryOrderAt"); err != nil {
		return time.Time{}, false, err
	}
	var last time.Time
	found := false
	s.categoryItemsLocked(retailerID, category, time.Time{}, func(o model.Order, _ []model.OrderItem) {
		if !found || o.CreatedAt.After(last) {
			last = o.CreatedAt
			found = true
		}
	})
	return last, found, nil
}

func (s *Store) UnitsSoldSince(_ context.Context, retailerID, productID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("UnitsSoldSince"); err != nil {
		return 0, err
	}
	n := 0
	for _, d := range s.sales {
		if d.RetailerID == retailerID && d.ProductID == productID && !d.Date.Before(since) {
			n += d.Quantity
		}
	}
	return n, nil
}

func (s *Store) RetailerStockQuantity(_ context.Context, retailerID, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("RetailerStockQuantity"); err != nil {
		return 0, err
	}
	return s.stock[pairKey{retailerID, productID}], nil
}

func (s *Store) RetailerOrderCounts(_ context.Context, retailerID string) (total, completed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("RetailerOrderCounts"); err != nil {
		return 0, 0, err
	}
	for _, o := range s.orders {
		if o.RetailerID != retailerID {
			continue
		}
		total++
		if o.Status == model.OrderStatusCompleted {
			completed++
		}
	}
	return total, completed, nil
}

func (s *Store) UpsertRetailerScores(_ context.Context, scores []model.RetailerScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("UpsertRetailerScores"); err != nil {
		return err
	}
	for _, sc := range scores {
		s.scores[pairKey{sc.RetailerID, sc.ProductID}] = sc
	}
	return nil
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

func (s *Store) insertLocked(n model.NotificationLog) {
	row := n
	s.notifications = append(s.notifications, &row)
	s.byID[row.ID] = &row
}

// CreateNotificationIfAbsent inserts n unless the same (retailer, batch)
// pair was notified at or after windowStart. The mutex makes the check and
// the insert atomic.
func (s *Store) CreateNotificationIfAbsent(_ context.Context, n model.NotificationLog, windowStart time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("CreateNotificationIfAbsent"); err != nil {
		return false, err
	}
	for _, existing := range s.notifications {
		if existing.RetailerID == n.RetailerID &&
			existing.InventoryBatchID == n.InventoryBatchID &&
			!existing.SentAt.Before(windowStart) {
			return false, nil
		}
	}
	s.insertLocked(n)
	return true, nil
}

func (s *Store) GetNotification(_ context.Context, id string) (model.NotificationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("GetNotification"); err != nil {
		return model.NotificationLog{}, err
	}
	n, ok := s.byID[id]
	if !ok {
		return model.NotificationLog{}, apperr.NotFound("notification", id)
	}
	return *n, nil
}

func (s *Store) ApplyNotificationOutcome(_ context.Context, id string, action model.Outcome, now time.Time) (model.NotificationLog, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ApplyNotificationOutcome"); err != nil {
		return model.NotificationLog{}, false, err
	}
	n, ok := s.byID[id]
	if !ok {
		return model.NotificationLog{}, false, apperr.NotFound("notification", id)
	}
	changed := n.ApplyOutcome(action, now)
	return *n, changed, nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("GetUser"); err != nil {
		return model.User{}, err
	}
	u, ok := s.users[id]
	if !ok {
		return model.User{}, apperr.NotFound("user", id)
	}
	return u, nil
}

func (s *Store) ListInbox(_ context.Context, q model.InboxQuery, now time.Time) ([]model.InboxItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListInbox"); err != nil {
		return nil, 0, err
	}

	var all []model.InboxItem
	for _, n := range s.notifications {
		if n.RetailerID != q.RetailerID || (q.Outcome != "" && n.Outcome != q.Outcome) {
			continue
		}
		b, ok := s.batches[n.InventoryBatchID]
		if !ok || !b.Sellable(now) {
			continue
		}
		all = append(all, model.InboxItem{Notification: *n, Batch: b, Product: s.products[b.ProductID]})
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].Notification, all[j].Notification
		if a.UrgencyScore != b.UrgencyScore {
			return a.UrgencyScore > b.UrgencyScore
		}
		return a.SentAt.After(b.SentAt)
	})
	return pageOf(all, q.Page), len(all), nil
}

func (s *Store) ListHistory(_ context.Context, q model.HistoryQuery) ([]model.HistoryItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListHistory"); err != nil {
		return nil, 0, err
	}

	var all []model.HistoryItem
	for _, n := range s.notifications {
		b, ok := s.batches[n.InventoryBatchID]
		if !ok || b.MerchandiserID != q.MerchandiserID {
			continue
		}
		if q.Outcome != "" && n.Outcome != q.Outcome {
			continue
		}
		all = append(all, model.HistoryItem{
			Notification: *n,
			Retailer:     s.users[n.RetailerID],
			Batch:        b,
			Product:      s.products[b.ProductID],
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Notification.SentAt.After(all[j].Notification.SentAt)
	})
	return pageOf(all, q.Page), len(all), nil
}

func (s *Store) MerchandiserOutcomeCounts(_ context.Context, merchandiserID string) (model.OutcomeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("MerchandiserOutcomeCounts"); err != nil {
		return model.OutcomeCounts{}, err
	}
	var c model.OutcomeCounts
	for _, n := range s.notifications {
		b, ok := s.batches[n.InventoryBatchID]
		if !ok || b.MerchandiserID != merchandiserID {
			continue
		}
		c.Sent++
		switch n.Outcome {
		case model.OutcomeViewed:
			c.Viewed++
		case model.OutcomeOrdered:
			c.Viewed++
			c.Ordered++
		}
	}
	return c, nil
}

// PurgeNotifications deletes non-pending rows sent before cutoff.
func (s *Store) PurgeNotifications(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("PurgeNotifications"); err != nil {
		return 0, err
	}
	kept := s.notifications[:0]
	var purged int64
	for _, n := range s.notifications {
		if n.Outcome != model.OutcomePending && n.SentAt.Before(cutoff) {
			delete(s.byID, n.ID)
			purged++
			continue
		}
		kept = append(kept, n)
	}
	s.notifications = kept
	return purged, nil
}

func pageOf[T any](all []T, p model.Page) []T {
	start := p.Offset()
	if start >= len(all) || start < 0 {
		return nil
	}
	end := start + p.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
