package reconcile

import (
	"sync"
	"time"
)

// guard suppresses duplicate upstream calls when the same request's event
// cascade re-triggers validation for one product within a short window. It is
// an optimization only: it lives in process memory, provides no cross-request
// mutual exclusion, and correctness never depends on it.
type guard struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	expires map[int64]time.Time
}

func newGuard(window time.Duration) *guard {
	if window <= 0 {
		window = 3 * time.Second
	}
	return &guard{
		window:  window,
		now:     time.Now,
		expires: make(map[int64]time.Time),
	}
}

// tryAcquire reports whether the caller should perform the live check. A
// false return means a check for this product ran within the window.
func (g *guard) tryAcquire(productID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if expiry, ok := g.expires[productID]; ok && now.Before(expiry) {
		return false
	}
	for id, expiry := range g.expires {
		if now.After(expiry) {
			delete(g.expires, id)
		}
	}
	g.expires[productID] = now.Add(g.window)
	return true
}
