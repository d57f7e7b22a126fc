package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/numeric"
)

// Service serves outcome updates and the inbox and history views.
type Service struct {
	store  ServiceStore
	logger *slog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewService creates a Service.
func NewService(store ServiceStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, Now: time.Now}
}

// Get returns one notification.
func (s *Service) Get(ctx context.Context, id string) (model.NotificationLog, error) {
	if strings.TrimSpace(id) == "" {
		return model.NotificationLog{}, apperr.Invalid("notification id is required")
	}
	return s.store.GetNotification(ctx, id)
}

// UpdateOutcome applies a retailer action to a notification. An action that
// does not outrank the current outcome is reported with Changed=false.
func (s *Service) UpdateOutcome(ctx context.Context, id, action string) (OutcomeUpdate, error) {
	target, err := model.ParseAction(action)
	if err != nil {
		return OutcomeUpdate{}, err
	}

	n, changed, err := s.store.ApplyNotificationOutcome(ctx, id, target, s.Now())
	if err != nil {
		return OutcomeUpdate{}, fmt.Errorf("apply outcome: %w", err)
	}

	if changed {
		s.logger.Info("Notification outcome updated",
			"notification_id", id, "retailer_id", n.RetailerID, "outcome", n.Outcome)
	} else {
		s.logger.Debug("Notification outcome unchanged",
			"notification_id", id, "outcome", n.Outcome, "requested", target)
	}
	return OutcomeUpdate{Notification: n, Changed: changed}, nil
}

// Inbox lists a retailer's recommendations for batches that are still
// sellable, most urgent first. Summary counts cover the returned page.
func (s *Service) Inbox(ctx context.Context, q model.InboxQuery) (Inbox, error) {
	var inbox Inbox
	if q.RetailerID == "" {
		return inbox, apperr.Invalid("retailerId is required")
	}
	outcome, err := parseOutcomeFilter(q.Outcome)
	if err != nil {
		return inbox, err
	}
	q.Outcome = outcome
	q.Page = normalizePage(q.Page)

	retailer, err := s.store.GetUser(ctx, q.RetailerID)
	if err != nil {
		return inbox, err
	}
	if !retailer.IsRetailer() {
		return inbox, apperr.Forbidden("only retailers have a notification inbox")
	}

	now := s.Now()
	items, total, err := s.store.ListInbox(ctx, q, now)
	if err != nil {
		return inbox, fmt.Errorf("list inbox: %w", err)
	}

	inbox.Retailer.ID = retailer.ID
	inbox.Retailer.ShopName = retailer.ShopName
	inbox.Pagination = newPagination(q.Page, total)
	inbox.Notifications = make([]InboxEntry, 0, len(items))
	for _, it := range items {
		e := InboxEntry{
			NotificationID: it.Notification.ID,
			Outcome:        it.Notification.Outcome,
			UrgencyScore:   it.Notification.UrgencyScore,
			RetailerRank:   it.Notification.RetailerRank,
			SentAt:         it.Notification.SentAt,
			ViewedAt:       it.Notification.ViewedAt,
			OrderedAt:      it.Notification.OrderedAt,
		}
		e.Batch.ID = it.Batch.ID
		e.Batch.Quantity = it.Batch.Quantity
		e.Batch.SellingPrice = it.Batch.SellingPrice
		e.Batch.ExpiryDate = it.Batch.ExpiryDate
		e.Batch.DaysRemaining = it.Batch.DaysRemaining(now)
		e.Product.ID = it.Product.ID
		e.Product.Name = it.Product.Name
		e.Product.Brand = it.Product.Brand
		e.Product.Category = it.Product.Category
		e.Product.Unit = it.Product.Unit

		if e.UrgencyScore > urgentThreshold {
			inbox.Summary.UrgentCount++
		}
		if e.Outcome == model.OutcomePending {
			inbox.Summary.PendingCount++
		}
		inbox.Notifications = append(inbox.Notifications, e)
	}
	inbox.Summary.Total = len(inbox.Notifications)
	return inbox, nil
}

// History lists notifications sent for a merchandiser's batches, newest
// first, with outcome statistics across all of them.
func (s *Service) History(ctx context.Context, q model.HistoryQuery) (History, error) {
	var h History
	if q.MerchandiserID == "" {
		return h, apperr.Invalid("merchandiserId is required")
	}
	outcome, err := parseOutcomeFilter(q.Outcome)
	if err != nil {
		return h, err
	}
	q.Outcome = outcome
	q.Page = normalizePage(q.Page)

	merch, err := s.store.GetUser(ctx, q.MerchandiserID)
	if err != nil {
		return h, err
	}
	if merch.Role != model.RoleMerchandiser {
		return h, apperr.NotFound("merchandiser", q.MerchandiserID)
	}

	items, total, err := s.store.ListHistory(ctx, q)
	if err != nil {
		return h, fmt.Errorf("list history: %w", err)
	}
	counts, err := s.store.MerchandiserOutcomeCounts(ctx, q.MerchandiserID)
	if err != nil {
		return h, fmt.Errorf("count outcomes: %w", err)
	}

	h.Merchandiser.ID = merch.ID
	h.Merchandiser.ShopName = merch.ShopName
	h.Stats = HistoryStats{
		TotalSent:      counts.Sent,
		TotalViewed:    counts.Viewed,
		TotalOrdered:   counts.Ordered,
		ConversionRate: numeric.Percent(counts.Ordered, counts.Sent),
		ViewRate:       numeric.Percent(counts.Viewed, counts.Sent),
	}
	h.Pagination = newPagination(q.Page, total)
	h.Notifications = make([]HistoryEntry, 0, len(items))
	for _, it := range items {
		e := HistoryEntry{
			NotificationID: it.Notification.ID,
			Outcome:        it.Notification.Outcome,
			UrgencyScore:   it.Notification.UrgencyScore,
			RetailerRank:   it.Notification.RetailerRank,
			SentAt:         it.Notification.SentAt,
			ViewedAt:       it.Notification.ViewedAt,
			OrderedAt:      it.Notification.OrderedAt,
		}
		e.Retailer.ID = it.Retailer.ID
		e.Retailer.ShopName = it.Retailer.ShopName
		e.Batch.ID = it.Batch.ID
		e.Batch.Product = it.Product.Name
		e.Batch.Category = it.Product.Category
		e.Batch.ExpiryDate = it.Batch.ExpiryDate
		e.Batch.Quantity = it.Batch.Quantity
		e.Batch.SellingPrice = it.Batch.SellingPrice
		h.Notifications = append(h.Notifications, e)
	}
	return h, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func parseOutcomeFilter(o model.Outcome) (model.Outcome, error) {
	switch o {
	case "", model.OutcomePending, model.OutcomeViewed, model.OutcomeIgnored, model.OutcomeOrdered:
		return o, nil
	default:
		return "", apperr.Invalid("outcome must be one of: pending, viewed, ignored, ordered")
	}
}

func normalizePage(p model.Page) model.Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}
