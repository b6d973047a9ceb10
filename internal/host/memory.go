package host

import (
	"context"
	"sync"
	"time"
)

// DefaultSyncLogSize matches the bounded sync log the admin surface displays.
const DefaultSyncLogSize = 100

// MemoryStore is the in-process Store used by the binary and by tests. Real
// deployments substitute an adapter over the platform's own storage.
type MemoryStore struct {
	logCap int

	mu       sync.Mutex
	products map[int64]ProductRecord
	log      []SyncLogEntry
}

// NewMemoryStore builds an empty store. A non-positive logCap uses the
// default bound of 100 entries.
func NewMemoryStore(logCap int) *MemoryStore {
	if logCap <= 0 {
		logCap = DefaultSyncLogSize
	}
	return &MemoryStore{
		logCap:   logCap,
		products: make(map[int64]ProductRecord),
	}
}

// Seed inserts or replaces a product record, bypassing the sync log. Used at
// startup and in tests.
func (s *MemoryStore) Seed(rec ProductRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[rec.ID] = rec
}

func (s *MemoryStore) Product(_ context.Context, productID int64) (ProductRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.products[productID]
	if !ok {
		return ProductRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) UpdateStock(_ context.Context, productID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.products[productID]
	if !ok {
		return ErrNotFound
	}
	rec.StockQuantity = quantity
	rec.InStock = quantity > 0
	s.products[productID] = rec
	return nil
}

func (s *MemoryStore) UpdatePrices(_ context.Context, productID int64, price, regularPrice, salePrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.products[productID]
	if !ok {
		return ErrNotFound
	}
	rec.Price = price
	if regularPrice > 0 {
		rec.RegularPrice = regularPrice
	}
	if salePrice > 0 {
		rec.SalePrice = salePrice
	}
	s.products[productID] = rec
	return nil
}

func (s *MemoryStore) TouchSynced(_ context.Context, productID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.products[productID]
	if !ok {
		return ErrNotFound
	}
	rec.LastSyncedAt = at
	s.products[productID] = rec
	return nil
}

// AppendSyncLog keeps ring-buffer semantics: once the bound is reached the
// oldest entry is dropped first.
func (s *MemoryStore) AppendSyncLog(_ context.Context, entry SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
	if len(s.log) > s.logCap {
		s.log = s.log[len(s.log)-s.logCap:]
	}
	return nil
}

func (s *MemoryStore) SyncLog(context.Context) ([]SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncLogEntry, len(s.log))
	copy(out, s.log)
	return out, nil
}
