// Package store implements the engine's persistence over Postgres. Each stage
// declares the narrow interface it needs; Postgres satisfies all of them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/db"
	"github.com/freshroute/expiry-engine/internal/model"
)

// Postgres runs the prepared statements registered by db.New.
type Postgres struct {
	pool *db.Pool
}

// NewPostgres wraps a pool whose connections carry the engine's prepared
// statements.
func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// --------------------------------------------------------------------------
// Row scanning
// --------------------------------------------------------------------------

// batchRow collects batch columns; prices arrive as text and are parsed
// into decimals.
type batchRow struct {
	b                 model.InventoryBatch
	purchase, selling string
}

func (r *batchRow) dest() []any {
	return []any{&r.b.ID, &r.b.ProductID, &r.b.MerchandiserID, &r.b.Quantity, &r.purchase, &r.selling, &r.b.ExpiryDate}
}

func (r *batchRow) batch() (model.InventoryBatch, error) {
	var err error
	if r.b.PurchasePrice, err = decimal.NewFromString(r.purchase); err != nil {
		return r.b, fmt.Errorf("parse purchase price of batch %s: %w", r.b.ID, err)
	}
	if r.b.SellingPrice, err = decimal.NewFromString(r.selling); err != nil {
		return r.b, fmt.Errorf("parse selling price of batch %s: %w", r.b.ID, err)
	}
	return r.b, nil
}

func productDest(p *model.Product) []any {
	return []any{&p.ID, &p.Name, &p.Category, &p.Brand, &p.Unit}
}

func userDest(u *model.User) []any {
	return []any{&u.ID, &u.Name, &u.ShopName, &u.Role, &u.IsActive}
}

// notificationRow scans the outcome as text before converting it.
type notificationRow struct {
	n       model.NotificationLog
	outcome string
}

func (r *notificationRow) dest() []any {
	return []any{&r.n.ID, &r.n.RetailerID, &r.n.InventoryBatchID, &r.n.UrgencyScore,
		&r.n.RetailerRank, &r.outcome, &r.n.SentAt, &r.n.ViewedAt, &r.n.OrderedAt}
}

func (r *notificationRow) notification() model.NotificationLog {
	r.n.Outcome = model.Outcome(r.outcome)
	return r.n
}

func concat(parts ...[]any) []any {
	var out []any
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// wrap maps a driver error to the engine's error kinds.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Persistence(op, err)
}

// --------------------------------------------------------------------------
// Analytics stage
// --------------------------------------------------------------------------

func (p *Postgres) ListProductsWithBatches(ctx context.Context) ([]model.Product, error) {
	rows, err := p.pool.Query(ctx, "products_with_batches")
	if err != nil {
		return nil, wrap("list products with batches", err)
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var pr model.Product
		if err := rows.Scan(productDest(&pr)...); err != nil {
			return nil, wrap("scan product", err)
		}
		out = append(out, pr)
	}
	return out, wrap("list products with batches", rows.Err())
}

func (p *Postgres) ListOrderLines(ctx context.Context, productID string) ([]model.OrderLine, error) {
	rows, err := p.pool.Query(ctx, "product_order_lines", productID)
	if err != nil {
		return nil, wrap("list order lines", err)
	}
	defer rows.Close()

	var out []model.OrderLine
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.OrderID, &l.CreatedAt, &l.Quantity); err != nil {
			return nil, wrap("scan order line", err)
		}
		out = append(out, l)
	}
	return out, wrap("list order lines", rows.Err())
}

func (p *Postgres) UpsertProductAnalytics(ctx context.Context, a model.ProductAnalytics) error {
	_, err := p.pool.Exec(ctx, "upsert_product_analytics",
		a.ProductID, a.AvgDaysToSell, a.SellVelocityPerDay, a.StdDevDays,
		a.DynamicThresholdDays, a.LastComputedAt)
	return wrap("upsert product analytics", err)
}

// --------------------------------------------------------------------------
// Risk stage
// --------------------------------------------------------------------------

func (p *Postgres) ListProductAnalytics(ctx context.Context) ([]model.ProductAnalytics, error) {
	rows, err := p.pool.Query(ctx, "all_product_analytics")
	if err != nil {
		return nil, wrap("list product analytics", err)
	}
	defer rows.Close()

	var out []model.ProductAnalytics
	for rows.Next() {
		var a model.ProductAnalytics
		if err := rows.Scan(&a.ProductID, &a.AvgDaysToSell, &a.SellVelocityPerDay,
			&a.StdDevDays, &a.DynamicThresholdDays, &a.LastComputedAt); err != nil {
			return nil, wrap("scan product analytics", err)
		}
		out = append(out, a)
	}
	return out, wrap("list product analytics", rows.Err())
}

func (p *Postgres) ListSellableBatches(ctx context.Context, now time.Time) ([]model.BatchDetail, error) {
	rows, err := p.pool.Query(ctx, "sellable_batches", now)
	if err != nil {
		return nil, wrap("list sellable batches", err)
	}
	defer rows.Close()

	var out []model.BatchDetail
	for rows.Next() {
		var br batchRow
		var pr model.Product
		if err := rows.Scan(concat(br.dest(), productDest(&pr))...); err != nil {
			return nil, wrap("scan batch", err)
		}
		b, err := br.batch()
		if err != nil {
			return nil, wrap("scan batch", err)
		}
		out = append(out, model.BatchDetail{InventoryBatch: b, Product: pr})
	}
	return out, wrap("list sellable batches", rows.Err())
}

// --------------------------------------------------------------------------
// Scoring stage
// --------------------------------------------------------------------------

func (p *Postgres) ListActiveRetailers(ctx context.Context) ([]model.User, error) {
	rows, err := p.pool.Query(ctx, "active_retailers")
	if err != nil {
		return nil, wrap("list active retailers", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(userDest(&u)...); err != nil {
			return nil, wrap("scan retailer", err)
		}
		out = append(out, u)
	}
	return out, wrap("list active retailers", rows.Err())
}

func (p *Postgres) GetProduct(ctx context.Context, id string) (model.Product, error) {
	var pr model.Product
	err := p.pool.QueryRow(ctx, "product_by_id", id).Scan(productDest(&pr)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return pr, apperr.NotFound("product", id)
	}
	return pr, wrap("get product", err)
}

func (p *Postgres) CountCategoryOrders(ctx context.Context, retailerID, category string, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "count_category_orders", retailerID, category, since).Scan(&n)
	return n, wrap("count category orders", err)
}

func (p *Postgres) AvgCategoryItemQuantity(ctx context.Context, retailerID, category string, since time.Time) (float64, error) {
	var avg float64
	err := p.pool.QueryRow(ctx, "avg_category_item_quantity", retailerID, category, since).Scan(&avg)
	return avg, wrap("average category item quantity", err)
}

func (p *Postgres) LastCategoryOrderAt(ctx context.Context, retailerID, category string) (time.Time, bool, error) {
	var last *time.Time
	if err := p.pool.QueryRow(ctx, "last_category_order_at", retailerID, category).Scan(&last); err != nil {
		return time.Time{}, false, wrap("last category order", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

func (p *Postgres) UnitsSoldSince(ctx context.Context, retailerID, productID string, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "units_sold_since", retailerID, productID, since).Scan(&n)
	return n, wrap("units sold", err)
}

func (p *Postgres) RetailerStockQuantity(ctx context.Context, retailerID, productID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "retailer_stock_quantity", retailerID, productID).Scan(&n)
	return n, wrap("retailer stock", err)
}

func (p *Postgres) RetailerOrderCounts(ctx context.Context, retailerID string) (total, completed int, err error) {
	err = p.pool.QueryRow(ctx, "retailer_order_counts", retailerID).Scan(&total, &completed)
	return total, completed, wrap("retailer order counts", err)
}

// UpsertRetailerScores writes all scores of one product in a single
// transaction.
func (p *Postgres) UpsertRetailerScores(ctx context.Context, scores []model.RetailerScore) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return wrap("begin score upsert", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, s := range scores {
		batch.Queue("upsert_retailer_score",
			s.RetailerID, s.ProductID, s.FrequencyScore, s.VolumeScore, s.RecencyScore,
			s.SellThroughScore, s.ReliabilityScore, s.CompositeScore, s.LastUpdated)
	}
	br := tx.SendBatch(ctx, batch)
	for range scores {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return wrap("upsert retailer score", err)
		}
	}
	if err := br.Close(); err != nil {
		return wrap("upsert retailer score", err)
	}
	return wrap("commit score upsert", tx.Commit(ctx))
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

// CreateNotificationIfAbsent inserts n unless the (retailer, batch) pair was
// notified at or after windowStart. A transaction-scoped advisory lock on the
// pair serializes concurrent writers between the check and the insert.
func (p *Postgres) CreateNotificationIfAbsent(ctx context.Context, n model.NotificationLog, windowStart time.Time) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, wrap("begin notification insert", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "lock_notification_pair", n.RetailerID, n.InventoryBatchID); err != nil {
		return false, wrap("lock notification pair", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, "recent_notification_exists", n.RetailerID, n.InventoryBatchID, windowStart).Scan(&exists); err != nil {
		return false, wrap("check recent notification", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, "insert_notification",
		n.ID, n.RetailerID, n.InventoryBatchID, n.UrgencyScore, n.RetailerRank,
		string(n.Outcome), n.SentAt); err != nil {
		return false, wrap("insert notification", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, wrap("commit notification insert", err)
	}
	return true, nil
}

func (p *Postgres) GetNotification(ctx context.Context, id string) (model.NotificationLog, error) {
	var r notificationRow
	err := p.pool.QueryRow(ctx, "notification_by_id", id).Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotificationLog{}, apperr.NotFound("notification", id)
	}
	if err != nil {
		return model.NotificationLog{}, wrap("get notification", err)
	}
	return r.notification(), nil
}

// ApplyNotificationOutcome locks the row, applies the precedence rule and
// writes back only when the outcome changed.
func (p *Postgres) ApplyNotificationOutcome(ctx context.Context, id string, action model.Outcome, now time.Time) (model.NotificationLog, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return model.NotificationLog{}, false, wrap("begin outcome update", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var r notificationRow
	err = tx.QueryRow(ctx, "notification_for_update", id).Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotificationLog{}, false, apperr.NotFound("notification", id)
	}
	if err != nil {
		return model.NotificationLog{}, false, wrap("lock notification", err)
	}

	n := r.notification()
	if !n.ApplyOutcome(action, now) {
		return n, false, nil
	}
	if _, err := tx.Exec(ctx, "update_notification_outcome", n.ID, string(n.Outcome), n.ViewedAt, n.OrderedAt); err != nil {
		return model.NotificationLog{}, false, wrap("update notification outcome", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.NotificationLog{}, false, wrap("commit outcome update", err)
	}
	return n, true, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := p.pool.QueryRow(ctx, "user_by_id", id).Scan(userDest(&u)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, apperr.NotFound("user", id)
	}
	return u, wrap("get user", err)
}

func (p *Postgres) ListInbox(ctx context.Context, q model.InboxQuery, now time.Time) ([]model.InboxItem, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, "inbox_count", q.RetailerID, string(q.Outcome), now).Scan(&total); err != nil {
		return nil, 0, wrap("count inbox", err)
	}

	rows, err := p.pool.Query(ctx, "inbox_page", q.RetailerID, string(q.Outcome), now, q.Page.Limit, q.Page.Offset())
	if err != nil {
		return nil, 0, wrap("list inbox", err)
	}
	defer rows.Close()

	var out []model.InboxItem
	for rows.Next() {
		var nr notificationRow
		var br batchRow
		var pr model.Product
		if err := rows.Scan(concat(nr.dest(), br.dest(), productDest(&pr))...); err != nil {
			return nil, 0, wrap("scan inbox item", err)
		}
		b, err := br.batch()
		if err != nil {
			return nil, 0, wrap("scan inbox item", err)
		}
		out = append(out, model.InboxItem{Notification: nr.notification(), Batch: b, Product: pr})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrap("list inbox", err)
	}
	return out, total, nil
}

func (p *Postgres) ListHistory(ctx context.Context, q model.HistoryQuery) ([]model.HistoryItem, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, "history_count", q.MerchandiserID, string(q.Outcome)).Scan(&total); err != nil {
		return nil, 0, wrap("count history", err)
	}

	rows, err := p.pool.Query(ctx, "history_page", q.MerchandiserID, string(q.Outcome), q.Page.Limit, q.Page.Offset())
	if err != nil {
		return nil, 0, wrap("list history", err)
	}
	defer rows.Close()

	var out []model.HistoryItem
	for rows.Next() {
		var nr notificationRow
		var u model.User
		var br batchRow
		var pr model.Product
		if err := rows.Scan(concat(nr.dest(), userDest(&u), br.dest(), productDest(&pr))...); err != nil {
			return nil, 0, wrap("scan history item", err)
		}
		b, err := br.batch()
		if err != nil {
			return nil, 0, wrap("scan history item", err)
		}
		out = append(out, model.HistoryItem{Notification: nr.notification(), Retailer: u, Batch: b, Product: pr})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrap("list history", err)
	}
	return out, total, nil
}

func (p *Postgres) MerchandiserOutcomeCounts(ctx context.Context, merchandiserID string) (model.OutcomeCounts, error) {
	var c model.OutcomeCounts
	err := p.pool.QueryRow(ctx, "merchandiser_outcome_counts", merchandiserID).Scan(&c.Sent, &c.Viewed, &c.Ordered)
	return c, wrap("merchandiser outcome counts", err)
}

// PurgeNotifications deletes non-pending rows sent before cutoff.
func (p *Postgres) PurgeNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, "purge_notifications", cutoff)
	if err != nil {
		return 0, wrap("purge notifications", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.HealthCheck(ctx)
}
