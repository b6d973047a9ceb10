package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/granverde/stocklink/internal/product"
)

func snapshot(price float64, stock int) product.Snapshot {
	return product.Snapshot{
		Price:         price,
		StockQuantity: product.IntPtr(stock),
		InStock:       product.BoolPtr(stock > 0),
	}
}

func TestMemoryCacheStoreLookup(t *testing.T) {
	cache := NewMemory(500 * time.Millisecond)
	ctx := context.Background()
	key := product.Key{ProductID: 42, SKU: "SKU-42"}

	entry := Entry{Snapshot: snapshot(199.99, 3), StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(500 * time.Millisecond)

	if err := cache.Store(ctx, key, entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := cache.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Snapshot.Price != 199.99 {
		t.Fatalf("unexpected snapshot: %#v", got.Snapshot)
	}
	if stock, present := got.Snapshot.Stock(); !present || stock != 3 {
		t.Fatalf("expected stock 3, got %#v", got.Snapshot)
	}

	size, err := cache.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}

	if err := cache.Invalidate(ctx, key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, ok, err = cache.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup after invalidate: %v", err)
	}
	if ok {
		t.Fatalf("expected invalidate to remove key")
	}

	if err := cache.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemory(10 * time.Millisecond)
	ctx := context.Background()
	key := product.Key{ProductID: 7}

	entry := Entry{Snapshot: snapshot(10, 1), StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(10 * time.Millisecond)
	if err := cache.Store(ctx, key, entry); err != nil {
		t.Fatalf("store: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	_, ok, err := cache.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryCacheInvalidateAll(t *testing.T) {
	cache := NewMemory(time.Minute)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		entry := Entry{Snapshot: snapshot(float64(id), int(id))}
		entry.StoredAt = time.Now().UTC()
		entry.ExpiresAt = entry.StoredAt.Add(time.Minute)
		if err := cache.Store(ctx, product.Key{ProductID: id}, entry); err != nil {
			t.Fatalf("store %d: %v", id, err)
		}
	}

	if err := cache.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	size, err := cache.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected empty cache, got %d entries", size)
	}
}

func TestMemoryCacheClonesEntries(t *testing.T) {
	cache := NewMemory(time.Minute)
	ctx := context.Background()
	key := product.Key{ProductID: 9}

	entry := Entry{Snapshot: snapshot(50, 5)}
	entry.StoredAt = time.Now().UTC()
	entry.ExpiresAt = entry.StoredAt.Add(time.Minute)
	if err := cache.Store(ctx, key, entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, _, err := cache.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	*got.Snapshot.StockQuantity = 99

	again, _, err := cache.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if stock, _ := again.Snapshot.Stock(); stock != 5 {
		t.Fatalf("cached snapshot mutated through returned copy: %d", stock)
	}
}

func TestRedisCacheStoreLookup(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("miniredis unavailable in sandbox")
		}
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	cache, err := NewRedis(RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	ctx := context.Background()
	key := product.Key{ProductID: 42, SKU: "SKU-42"}

	entry := Entry{Snapshot: snapshot(199.99, 3), StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(500 * time.Millisecond)

	if err := cache.Store(ctx, key, entry); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := cache.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected redis cache hit")
	}
	if got.Snapshot.Price != 199.99 {
		t.Fatalf("unexpected snapshot: %#v", got.Snapshot)
	}

	server.FastForward(time.Second)
	_, ok, err = cache.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup after ttl: %v", err)
	}
	if ok {
		t.Fatalf("expected redis entry to expire")
	}

	entry.StoredAt = time.Now().UTC()
	entry.ExpiresAt = entry.StoredAt.Add(time.Minute)
	if err := cache.Store(ctx, key, entry); err != nil {
		t.Fatalf("second store: %v", err)
	}
	if err := cache.Invalidate(ctx, key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := cache.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if size, err := cache.Size(ctx); err != nil {
		t.Fatalf("size: %v", err)
	} else if size != 0 {
		t.Fatalf("expected empty redis cache, got %d", size)
	}

	if err := cache.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}
