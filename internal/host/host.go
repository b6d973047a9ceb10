// Package host abstracts the commerce platform's persisted product data. The
// reconciler reads and conditionally overwrites these records but never owns
// them; persistent storage mechanics stay on the host's side of the contract.
package host

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the host has no record for the product.
var ErrNotFound = errors.New("host: product not found")

// ProductRecord is the host's persisted view of a product.
type ProductRecord struct {
	ID            int64     `json:"id"`
	SKU           string    `json:"sku"`
	Price         float64   `json:"price"`
	RegularPrice  float64   `json:"regularPrice"`
	SalePrice     float64   `json:"salePrice"`
	StockQuantity int       `json:"stockQuantity"`
	ManageStock   bool      `json:"manageStock"`
	InStock       bool      `json:"inStock"`
	LastSyncedAt  time.Time `json:"lastSyncedAt"`
}

// CartLine is one line of a visitor's cart as reported by the host.
type CartLine struct {
	ProductID   int64  `json:"productId"`
	VariationID int64  `json:"variationId"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
}

// SyncLogEntry records one stock adjustment. The log is bounded; the host
// keeps only the most recent entries.
type SyncLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	ProductID int64     `json:"productId"`
	OldStock  int       `json:"oldStock"`
	NewStock  int       `json:"newStock"`
	Reason    string    `json:"reason"`
}

// Store is the narrow read/write contract against the host's product data.
type Store interface {
	Product(ctx context.Context, productID int64) (ProductRecord, error)
	UpdateStock(ctx context.Context, productID int64, quantity int) error
	UpdatePrices(ctx context.Context, productID int64, price, regularPrice, salePrice float64) error
	TouchSynced(ctx context.Context, productID int64, at time.Time) error
	AppendSyncLog(ctx context.Context, entry SyncLogEntry) error
	SyncLog(ctx context.Context) ([]SyncLogEntry, error)
}
