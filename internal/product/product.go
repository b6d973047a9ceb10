package product

import (
	"fmt"
	"strings"
)

// Key is the composite identity used to derive cache and guard keys. ProductID
// must be positive; SKU may be empty, in which case uniqueness rests on the
// numeric id alone.
type Key struct {
	ProductID int64
	SKU       string
}

// Valid reports whether the key can identify a product at all.
func (k Key) Valid() bool {
	return k.ProductID > 0 || strings.TrimSpace(k.SKU) != ""
}

// CacheKey renders the stable string form used by the snapshot cache.
func (k Key) CacheKey() string {
	return fmt.Sprintf("snapshot:%d:%s", k.ProductID, strings.TrimSpace(k.SKU))
}

// String implements fmt.Stringer for log output.
func (k Key) String() string {
	if k.SKU == "" {
		return fmt.Sprintf("product %d", k.ProductID)
	}
	return fmt.Sprintf("product %d (sku %s)", k.ProductID, k.SKU)
}

// Snapshot captures upstream truth for a single product at fetch time. Optional
// fields are pointers so "upstream did not say" stays distinct from zero values.
// Snapshots are immutable once constructed; mutating helpers return copies.
type Snapshot struct {
	Price         float64  `json:"price"`
	RegularPrice  *float64 `json:"regularPrice,omitempty"`
	SalePrice     *float64 `json:"salePrice,omitempty"`
	StockQuantity *int     `json:"stockQuantity,omitempty"`
	InStock       *bool    `json:"inStock,omitempty"`
}

// Stock returns the snapshot's stock quantity and whether upstream reported one.
func (s Snapshot) Stock() (int, bool) {
	if s.StockQuantity == nil {
		return 0, false
	}
	return *s.StockQuantity, true
}

// WithPrices returns a copy of the snapshot carrying the adjusted price fields.
func (s Snapshot) WithPrices(price float64, regular, sale *float64) Snapshot {
	out := s
	out.Price = price
	out.RegularPrice = clonePtr(regular)
	out.SalePrice = clonePtr(sale)
	return out
}

// Clone returns a deep copy so cached snapshots cannot be mutated by callers.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.RegularPrice = clonePtr(s.RegularPrice)
	out.SalePrice = clonePtr(s.SalePrice)
	if s.StockQuantity != nil {
		v := *s.StockQuantity
		out.StockQuantity = &v
	}
	if s.InStock != nil {
		v := *s.InStock
		out.InStock = &v
	}
	return out
}

func clonePtr(in *float64) *float64 {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

// IntPtr and FloatPtr are small helpers for constructing snapshots in callers
// and tests.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

func BoolPtr(v bool) *bool { return &v }
