package notifications

import (
	"context"
	"time"

	"github.com/freshroute/expiry-engine/internal/model"
)

// EmitStore persists new recommendations.
type EmitStore interface {
	// CreateNotificationIfAbsent inserts n unless its (retailer, batch) pair
	// already has a row sent at or after windowStart. The check and insert
	// must be atomic with respect to other writers of the same pair.
	CreateNotificationIfAbsent(ctx context.Context, n model.NotificationLog, windowStart time.Time) (bool, error)
}

// ServiceStore backs the read and outcome-update paths.
type ServiceStore interface {
	GetNotification(ctx context.Context, id string) (model.NotificationLog, error)
	// ApplyNotificationOutcome locks the row, applies the transition with
	// model.NotificationLog.ApplyOutcome and writes it back if it changed.
	ApplyNotificationOutcome(ctx context.Context, id string, action model.Outcome, now time.Time) (model.NotificationLog, bool, error)

	GetUser(ctx context.Context, id string) (model.User, error)
	ListInbox(ctx context.Context, q model.InboxQuery, now time.Time) ([]model.InboxItem, int, error)
	ListHistory(ctx context.Context, q model.HistoryQuery) ([]model.HistoryItem, int, error)
	MerchandiserOutcomeCounts(ctx context.Context, merchandiserID string) (model.OutcomeCounts, error)
}
