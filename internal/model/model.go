// Package model holds the persisted entities of the expiry engine and the
// read shapes the store returns for them.
package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// --------------------------------------------------------------------------
// Catalog and users
// --------------------------------------------------------------------------

// Product is immutable once created.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Brand    string `json:"brand"`
	Unit     string `json:"unit"`
}

// User roles.
const (
	RoleRetailer     = "RETAILER"
	RoleMerchandiser = "MERCHANDISER"
)

// User is a retailer or a merchandiser (owning seller).
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShopName string `json:"shopName"`
	Role     string `json:"role"`
	IsActive bool   `json:"isActive"`
}

// IsRetailer reports whether the user can receive recommendations.
func (u User) IsRetailer() bool {
	return u.Role == RoleRetailer
}

// --------------------------------------------------------------------------
// Inventory
// --------------------------------------------------------------------------

// InventoryBatch is stock of one product owned by one merchandiser.
// Quantity only decreases; ExpiryDate never changes.
type InventoryBatch struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	MerchandiserID string          `json:"merchandiserId"`
	Quantity       int             `json:"quantity"`
	PurchasePrice  decimal.Decimal `json:"purchasePrice"`
	SellingPrice   decimal.Decimal `json:"sellingPrice"`
	ExpiryDate     time.Time       `json:"expiryDate"`
}

// Sellable reports whether the batch is in stock and unexpired at now.
func (b InventoryBatch) Sellable(now time.Time) bool {
	return b.Quantity > 0 && b.ExpiryDate.After(now)
}

// DaysRemaining is the whole number of days left before expiry, rounded
// up and never negative.
func (b InventoryBatch) DaysRemaining(now time.Time) int {
	d := math.Ceil(b.ExpiryDate.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return int(d)
}

// BatchDetail is a batch joined with its product.
type BatchDetail struct {
	InventoryBatch
	Product Product `json:"product"`
}

// --------------------------------------------------------------------------
// Order history
// --------------------------------------------------------------------------

// Order statuses.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
)

// Order groups items bought by a retailer from a merchandiser.
type Order struct {
	ID             string
	RetailerID     string
	MerchandiserID string
	Status         string
	CreatedAt      time.Time
	Items          []OrderItem
}

// OrderItem references one batch.
type OrderItem struct {
	ID               string
	InventoryBatchID string
	Quantity         int
	Price            decimal.Decimal
}

// OrderLine is one order item flattened with its order timestamp, the shape
// the sell-cadence statistics are computed from.
type OrderLine struct {
	OrderID   string
	CreatedAt time.Time
	Quantity  int
}

// DailySale is a retailer's shelf sale of a product.
type DailySale struct {
	RetailerID string
	ProductID  string
	Quantity   int
	Date       time.Time
}

// --------------------------------------------------------------------------
// Derived state
// --------------------------------------------------------------------------

// ProductAnalytics is recomputed in full on every pipeline run.
type ProductAnalytics struct {
	ProductID            string    `json:"productId"`
	AvgDaysToSell        float64   `json:"avgDaysToSell"`
	SellVelocityPerDay   float64   `json:"sellVelocityPerDay"`
	StdDevDays           float64   `json:"stdDevDays"`
	DynamicThresholdDays int       `json:"dynamicThresholdDays"`
	LastComputedAt       time.Time `json:"lastComputedAt"`
}

// RetailerScore is the persisted result of scoring one retailer for one
// product, overwritten on every recomputation.
type RetailerScore struct {
	RetailerID       string    `json:"retailerId"`
	ProductID        string    `json:"productId"`
	FrequencyScore   float64   `json:"purchaseFrequencyScore"`
	VolumeScore      float64   `json:"volumeScore"`
	RecencyScore     float64   `json:"recencyScore"`
	SellThroughScore float64   `json:"sellThroughScore"`
	ReliabilityScore float64   `json:"reliabilityScore"`
	CompositeScore   float64   `json:"compositeScore"`
	LastUpdated      time.Time `json:"lastUpdated"`
}
