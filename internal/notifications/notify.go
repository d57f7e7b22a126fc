// Package notifications turns ranked retailers into deduplicated
// recommendation records and serves them back to retailers and
// merchandisers.
//
// Pipeline: take top-N retailers per at-risk batch → skip pairs notified
// inside the dedup window → persist the rest as pending.
// Service: outcome transitions, retailer inbox, merchandiser history.
package notifications

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshroute/expiry-engine/internal/model"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DefaultTopRetailers = 5
	DefaultDedupWindow  = 24 * time.Hour

	defaultPageLimit = 20
	maxPageLimit     = 100

	// Inbox items above this urgency count as urgent.
	urgentThreshold = 0.7
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// OutcomeUpdate is the result of an outcome transition request.
type OutcomeUpdate struct {
	Notification model.NotificationLog `json:"notification"`
	Changed      bool                  `json:"changed"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

func newPagination(p model.Page, total int) Pagination {
	return Pagination{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: (total + p.Limit - 1) / p.Limit,
		HasMore:    p.Page*p.Limit < total,
	}
}

// Inbox is a retailer's page of live recommendations.
type Inbox struct {
	Retailer struct {
		ID       string `json:"id"`
		ShopName string `json:"shopName"`
	} `json:"retailer"`
	Pagination Pagination `json:"pagination"`
	Summary    struct {
		Total        int `json:"total"`
		UrgentCount  int `json:"urgentCount"`
		PendingCount int `json:"pendingCount"`
	} `json:"summary"`
	Notifications []InboxEntry `json:"notifications"`
}

// InboxEntry is one recommendation as the retailer sees it.
type InboxEntry struct {
	NotificationID string        `json:"notificationId"`
	Outcome        model.Outcome `json:"outcome"`
	UrgencyScore   float64       `json:"urgencyScore"`
	RetailerRank   int           `json:"retailerRank"`
	SentAt         time.Time     `json:"sentAt"`
	ViewedAt       *time.Time    `json:"viewedAt"`
	OrderedAt      *time.Time    `json:"orderedAt"`

	Batch struct {
		ID            string          `json:"batchId"`
		Quantity      int             `json:"quantity"`
		SellingPrice  decimal.Decimal `json:"sellingPrice"`
		ExpiryDate    time.Time       `json:"expiryDate"`
		DaysRemaining int             `json:"daysRemaining"`
	} `json:"batch"`
	Product struct {
		ID       string `json:"productId"`
		Name     string `json:"name"`
		Brand    string `json:"brand"`
		Category string `json:"category"`
		Unit     string `json:"unit"`
	} `json:"product"`
}

// History is a merchandiser's page of sent recommendations with outcome
// statistics over every notification they ever had sent.
type History struct {
	Merchandiser struct {
		ID       string `json:"id"`
		ShopName string `json:"shopName"`
	} `json:"merchandiser"`
	Stats         HistoryStats   `json:"stats"`
	Pagination    Pagination     `json:"pagination"`
	Notifications []HistoryEntry `json:"notifications"`
}

// HistoryStats rates are percentages with one decimal.
type HistoryStats struct {
	TotalSent      int     `json:"totalSent"`
	TotalViewed    int     `json:"totalViewed"`
	TotalOrdered   int     `json:"totalOrdered"`
	ConversionRate float64 `json:"conversionRate"`
	ViewRate       float64 `json:"viewRate"`
}

// HistoryEntry is one sent recommendation as the merchandiser sees it.
type HistoryEntry struct {
	NotificationID string        `json:"notificationId"`
	Outcome        model.Outcome `json:"outcome"`
	UrgencyScore   float64       `json:"urgencyScore"`
	RetailerRank   int           `json:"retailerRank"`
	SentAt         time.Time     `json:"sentAt"`
	ViewedAt       *time.Time    `json:"viewedAt"`
	OrderedAt      *time.Time    `json:"orderedAt"`

	Retailer struct {
		ID       string `json:"id"`
		ShopName string `json:"shopName"`
	} `json:"retailer"`
	Batch struct {
		ID           string          `json:"id"`
		Product      string          `json:"product"`
		Category     string          `json:"category"`
		ExpiryDate   time.Time       `json:"expiryDate"`
		Quantity     int             `json:"quantity"`
		SellingPrice decimal.Decimal `json:"sellingPrice"`
	} `json:"batch"`
}
