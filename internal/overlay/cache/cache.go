package cache

import (
	"context"
	"time"

	"github.com/granverde/stocklink/internal/product"
)

// Entry wraps a product snapshot with its storage window. Expired entries are
// treated identically to missing entries; backends expire lazily on Lookup
// rather than sweeping in the background.
type Entry struct {
	Snapshot  product.Snapshot `json:"snapshot"`
	StoredAt  time.Time        `json:"storedAt"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// SnapshotCache stores the last successful upstream payload per product key.
// Volume is bounded by catalog size, so no eviction policy beyond TTL is
// required.
type SnapshotCache interface {
	Lookup(ctx context.Context, key product.Key) (Entry, bool, error)
	Store(ctx context.Context, key product.Key, entry Entry) error
	Invalidate(ctx context.Context, key product.Key) error
	InvalidateAll(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
