// Package db provides a pgxpool-based connection pool with prepared statement
// registration, health checking and schema migration.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshroute/expiry-engine/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Migrate applies the embedded schema over a dedicated connection. The pool
// cannot be used: its connections prepare statements against tables that
// may not exist yet.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	// Simple protocol: the schema is many statements in one string.
	if _, err := conn.PgConn().Exec(ctx, schemaSQL).ReadAll(); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Column lists shared by several statements.
const (
	batchCols = "b.id, b.product_id, b.merchandiser_id, b.quantity, " +
		"b.purchase_price::text, b.selling_price::text, b.expiry_date"
	productCols      = "p.id, p.name, p.category, p.brand, p.unit"
	notificationCols = "n.id, n.retailer_id, n.inventory_batch_id, n.urgency_score, " +
		"n.retailer_rank, n.outcome, n.sent_at, n.viewed_at, n.ordered_at"
	userCols = "u.id, u.name, u.shop_name, u.role, u.is_active"

	// Orders of retailer $1 with at least one item in category $2.
	categoryOrderJoin = "FROM orders o " +
		"JOIN order_items oi ON oi.order_id = o.id " +
		"JOIN inventory_batches b ON b.id = oi.inventory_batch_id " +
		"JOIN products p ON p.id = b.product_id " +
		"WHERE o.retailer_id = $1 AND p.category = $2"
)

// registerPreparedStatements registers all statements the engine stages and
// the API use. Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Analytics
		"products_with_batches": "SELECT DISTINCT " + productCols +
			" FROM products p JOIN inventory_batches b ON b.product_id = p.id ORDER BY p.id",
		"product_order_lines": "SELECT o.id, o.created_at, oi.quantity FROM order_items oi " +
			"JOIN orders o ON o.id = oi.order_id " +
			"JOIN inventory_batches b ON b.id = oi.inventory_batch_id " +
			"WHERE b.product_id = $1 ORDER BY o.created_at DESC",
		"upsert_product_analytics": `INSERT INTO product_analytics
			(product_id, avg_days_to_sell, sell_velocity_per_day, std_dev_days, dynamic_threshold_days, last_computed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (product_id) DO UPDATE SET
				avg_days_to_sell = EXCLUDED.avg_days_to_sell,
				sell_velocity_per_day = EXCLUDED.sell_velocity_per_day,
				std_dev_days = EXCLUDED.std_dev_days,
				dynamic_threshold_days = EXCLUDED.dynamic_threshold_days,
				last_computed_at = EXCLUDED.last_computed_at`,

		// Risk
		"all_product_analytics": "SELECT product_id, avg_days_to_sell, sell_velocity_per_day, std_dev_days, " +
			"dynamic_threshold_days, last_computed_at FROM product_analytics ORDER BY product_id",
		"sellable_batches": "SELECT " + batchCols + ", " + productCols +
			" FROM inventory_batches b JOIN products p ON p.id = b.product_id" +
			" WHERE b.quantity > 0 AND b.expiry_date > $1 ORDER BY b.expiry_date, b.id",

		// Scoring
		"active_retailers": "SELECT " + userCols +
			" FROM users u WHERE u.role = 'RETAILER' AND u.is_active ORDER BY u.id",
		"product_by_id":              "SELECT " + productCols + " FROM products p WHERE p.id = $1",
		"count_category_orders":      "SELECT count(DISTINCT o.id) " + categoryOrderJoin + " AND o.created_at >= $3",
		"avg_category_item_quantity": "SELECT COALESCE(avg(oi.quantity), 0)::float8 " + categoryOrderJoin + " AND o.created_at >= $3",
		"last_category_order_at":     "SELECT max(o.created_at) " + categoryOrderJoin,
		"units_sold_since": "SELECT COALESCE(sum(quantity), 0) FROM daily_sales " +
			"WHERE retailer_id = $1 AND product_id = $2 AND (sale_date::timestamp AT TIME ZONE 'UTC') >= $3",
		"retailer_stock_quantity": "SELECT COALESCE((SELECT quantity FROM retailer_stock " +
			"WHERE retailer_id = $1 AND product_id = $2), 0)",
		"retailer_order_counts": "SELECT count(*), count(*) FILTER (WHERE status = 'COMPLETED') " +
			"FROM orders WHERE retailer_id = $1",
		"upsert_retailer_score": `INSERT INTO retailer_scores
			(retailer_id, product_id, frequency_score, volume_score, recency_score,
			 sell_through_score, reliability_score, composite_score, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (retailer_id, product_id) DO UPDATE SET
				frequency_score = EXCLUDED.frequency_score,
				volume_score = EXCLUDED.volume_score,
				recency_score = EXCLUDED.recency_score,
				sell_through_score = EXCLUDED.sell_through_score,
				reliability_score = EXCLUDED.reliability_score,
				composite_score = EXCLUDED.composite_score,
				last_updated = EXCLUDED.last_updated`,

		// Notifications: emission
		"lock_notification_pair": "SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))",
		"recent_notification_exists": "SELECT EXISTS (SELECT 1 FROM notification_logs " +
			"WHERE retailer_id = $1 AND inventory_batch_id = $2 AND sent_at >= $3)",
		"insert_notification": "INSERT INTO notification_logs " +
			"(id, retailer_id, inventory_batch_id, urgency_score, retailer_rank, outcome, sent_at) " +
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",

		// Notifications: outcome
		"notification_by_id":         "SELECT " + notificationCols + " FROM notification_logs n WHERE n.id = $1",
		"notification_for_update":    "SELECT " + notificationCols + " FROM notification_logs n WHERE n.id = $1 FOR UPDATE",
		"update_notification_outcome": "UPDATE notification_logs SET outcome = $2, viewed_at = $3, ordered_at = $4 WHERE id = $1",
		"user_by_id":                 "SELECT " + userCols + " FROM users u WHERE u.id = $1",

		// Notifications: inbox ($2 = '' disables the outcome filter)
		"inbox_page": "SELECT " + notificationCols + ", " + batchCols + ", " + productCols +
			" FROM notification_logs n" +
			" JOIN inventory_batches b ON b.id = n.inventory_batch_id" +
			" JOIN products p ON p.id = b.product_id" +
			" WHERE n.retailer_id = $1 AND ($2::text = '' OR n.outcome = $2::text)" +
			" AND b.quantity > 0 AND b.expiry_date > $3" +
			" ORDER BY n.urgency_score DESC, n.sent_at DESC LIMIT $4 OFFSET $5",
		"inbox_count": "SELECT count(*) FROM notification_logs n" +
			" JOIN inventory_batches b ON b.id = n.inventory_batch_id" +
			" WHERE n.retailer_id = $1 AND ($2::text = '' OR n.outcome = $2::text)" +
			" AND b.quantity > 0 AND b.expiry_date > $3",

		// Notifications: merchandiser history
		"history_page": "SELECT " + notificationCols + ", " + userCols + ", " + batchCols + ", " + productCols +
			" FROM notification_logs n" +
			" JOIN inventory_batches b ON b.id = n.inventory_batch_id" +
			" JOIN products p ON p.id = b.product_id" +
			" JOIN users u ON u.id = n.retailer_id" +
			" WHERE b.merchandiser_id = $1 AND ($2::text = '' OR n.outcome = $2::text)" +
			" ORDER BY n.sent_at DESC LIMIT $3 OFFSET $4",
		"history_count": "SELECT count(*) FROM notification_logs n" +
			" JOIN inventory_batches b ON b.id = n.inventory_batch_id" +
			" WHERE b.merchandiser_id = $1 AND ($2::text = '' OR n.outcome = $2::text)",
		"merchandiser_outcome_counts": "SELECT count(*)," +
			" count(*) FILTER (WHERE n.outcome IN ('viewed', 'ordered'))," +
			" count(*) FILTER (WHERE n.outcome = 'ordered')" +
			" FROM notification_logs n JOIN inventory_batches b ON b.id = n.inventory_batch_id" +
			" WHERE b.merchandiser_id = $1",

		// Maintenance
		"purge_notifications": "DELETE FROM notification_logs WHERE outcome <> 'pending' AND sent_at < $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
