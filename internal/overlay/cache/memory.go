package cache

import (
	"context"
	"sync"
	"time"

	"github.com/granverde/stocklink/internal/product"
)

type memoryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory builds the in-process snapshot cache. The ttl is applied when a
// stored entry carries no explicit expiry.
func NewMemory(ttl time.Duration) SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &memoryCache{ttl: ttl, entries: make(map[string]Entry)}
}

func (c *memoryCache) Lookup(_ context.Context, key product.Key) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key.CacheKey()]
	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key.CacheKey())
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (c *memoryCache) Store(_ context.Context, key product.Key, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(c.ttl)
	}
	c.entries[key.CacheKey()] = cloneEntry(entry)
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, key product.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.CacheKey())
	return nil
}

func (c *memoryCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	return nil
}

func (c *memoryCache) Size(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entries)), nil
}

func (c *memoryCache) Close(context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	return Entry{
		Snapshot:  in.Snapshot.Clone(),
		StoredAt:  in.StoredAt,
		ExpiresAt: in.ExpiresAt,
	}
}
