package model

import (
	"time"

	"github.com/freshroute/expiry-engine/internal/apperr"
)

// Outcome is the retailer-facing state of a notification.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeViewed  Outcome = "viewed"
	OutcomeIgnored Outcome = "ignored"
	OutcomeOrdered Outcome = "ordered"
)

// viewed and ignored share a level, so moving between them is a no-op.
var outcomePrecedence = map[Outcome]int{
	OutcomePending: 0,
	OutcomeViewed:  1,
	OutcomeIgnored: 1,
	OutcomeOrdered: 2,
}

// Precedence returns the outcome's rank; unknown outcomes rank as pending.
func (o Outcome) Precedence() int {
	return outcomePrecedence[o]
}

// ParseAction validates a requested outcome transition target.
func ParseAction(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeViewed, OutcomeOrdered, OutcomeIgnored:
		return o, nil
	default:
		return "", apperr.Invalid("action must be: viewed, ordered, or ignored")
	}
}

// NotificationLog is one recommendation of one batch to one retailer.
type NotificationLog struct {
	ID               string     `json:"id"`
	RetailerID       string     `json:"retailerId"`
	InventoryBatchID string     `json:"inventoryBatchId"`
	UrgencyScore     float64    `json:"urgencyScore"`
	RetailerRank     int        `json:"retailerRank"`
	Outcome          Outcome    `json:"outcome"`
	SentAt           time.Time  `json:"sentAt"`
	ViewedAt         *time.Time `json:"viewedAt"`
	OrderedAt        *time.Time `json:"orderedAt"`
}

// ApplyOutcome moves the notification to action if action outranks the
// current outcome, or if the notification is still pending. It reports
// whether anything changed. Ordering stamps ViewedAt when it was never set.
func (n *NotificationLog) ApplyOutcome(action Outcome, now time.Time) bool {
	if n.Outcome != OutcomePending && action.Precedence() <= n.Outcome.Precedence() {
		return false
	}

	n.Outcome = action
	switch action {
	case OutcomeViewed:
		if n.ViewedAt == nil {
			n.ViewedAt = &now
		}
	case OutcomeOrdered:
		if n.OrderedAt == nil {
			n.OrderedAt = &now
		}
		if n.ViewedAt == nil {
			n.ViewedAt = &now
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Read shapes for the inbox and history views
// --------------------------------------------------------------------------

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// InboxQuery selects a retailer's live notifications.
type InboxQuery struct {
	RetailerID string
	Outcome    Outcome // empty = any
	Page
}

// InboxItem is a notification joined with its batch and product.
type InboxItem struct {
	Notification NotificationLog
	Batch        InventoryBatch
	Product      Product
}

// HistoryQuery selects notifications sent for a merchandiser's batches.
type HistoryQuery struct {
	MerchandiserID string
	Outcome        Outcome // empty = any
	Page
}

// HistoryItem is a notification joined with its retailer, batch and product.
type HistoryItem struct {
	Notification NotificationLog
	Retailer     User
	Batch        InventoryBatch
	Product      Product
}

// OutcomeCounts aggregates notification outcomes for a merchandiser.
// Viewed counts notifications that are viewed or ordered.
type OutcomeCounts struct {
	Sent    int
	Viewed  int
	Ordered int
}
