// Package overlay answers "give me authoritative price and stock for product
// X". It orchestrates cache lookup, upstream fetch, and cache store, and
// decides between live data and fallback. Every path terminates in either a
// snapshot or an explicit no-data signal; no error escapes to callers, who
// are contractually required to fall back to host-native data on no-data.
package overlay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/granverde/stocklink/internal/metrics"
	"github.com/granverde/stocklink/internal/notices"
	"github.com/granverde/stocklink/internal/overlay/cache"
	"github.com/granverde/stocklink/internal/overlay/fallback"
	"github.com/granverde/stocklink/internal/overlay/pricing"
	"github.com/granverde/stocklink/internal/overlay/upstream"
	"github.com/granverde/stocklink/internal/product"
)

// Fetcher is the slice of the upstream client the overlay depends on.
type Fetcher interface {
	Fetch(ctx context.Context, key product.Key) (product.Snapshot, error)
	TestConnection(ctx context.Context) error
	Configured() bool
}

// Settings are the mutable knobs a configuration reload may swap at runtime.
type Settings struct {
	TTL             time.Duration
	PriceRule       *pricing.Rule
	DisableFallback bool
}

// Options wires the overlay's collaborators.
type Options struct {
	Cache    cache.SnapshotCache
	Client   Fetcher
	Tracker  *fallback.Tracker
	Notices  *notices.Buffer
	Metrics  *metrics.Recorder
	Settings Settings
}

// Status aggregates the operator-facing view of the overlay.
type Status struct {
	Configured bool            `json:"configured"`
	Fallback   fallback.Status `json:"fallback"`
	CacheSize  int64           `json:"cacheSize"`
	PriceRule  string          `json:"priceRule,omitempty"`
}

// Service implements the data overlay state machine.
type Service struct {
	cache   cache.SnapshotCache
	client  Fetcher
	tracker *fallback.Tracker
	notices *notices.Buffer
	metrics *metrics.Recorder
	logger  *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// New constructs the overlay service.
func New(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Settings.TTL <= 0 {
		opts.Settings.TTL = 5 * time.Minute
	}
	if opts.Tracker == nil {
		opts.Tracker = fallback.New(fallback.DefaultThreshold, fallback.DefaultCooldown, logger)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory(opts.Settings.TTL)
	}
	return &Service{
		cache:    opts.Cache,
		client:   opts.Client,
		tracker:  opts.Tracker,
		notices:  opts.Notices,
		metrics:  opts.Metrics,
		logger:   logger.With(slog.String("component", "overlay")),
		settings: opts.Settings,
	}
}

// Lookup resolves the authoritative snapshot for the key. The second return
// is false when the caller must fall back to host-native data: fallback mode
// active, endpoint unconfigured, or the fetch failed.
func (s *Service) Lookup(ctx context.Context, key product.Key) (product.Snapshot, bool) {
	if !key.Valid() {
		return product.Snapshot{}, false
	}
	if s.tracker.Active() {
		return product.Snapshot{}, false
	}
	if s.client == nil || !s.client.Configured() {
		return product.Snapshot{}, false
	}

	entry, hit, err := s.cache.Lookup(ctx, key)
	switch {
	case err != nil:
		// A broken cache degrades to a miss; the fetch below still works.
		s.metrics.ObserveCacheLookup(metrics.CacheLookupError)
		s.logger.Warn("cache lookup failed", slog.String("key", key.CacheKey()), slog.Any("error", err))
	case hit:
		s.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
		return entry.Snapshot, true
	default:
		s.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
	}

	return s.fetch(ctx, key)
}

// ForceSync invalidates any cached snapshot for the key and resolves it
// fresh. Used immediately after cart mutations and as the final authority at
// checkout, where staleness is not acceptable.
func (s *Service) ForceSync(ctx context.Context, key product.Key) (product.Snapshot, bool) {
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Warn("cache invalidate failed", slog.String("key", key.CacheKey()), slog.Any("error", err))
	}
	return s.Lookup(ctx, key)
}

func (s *Service) fetch(ctx context.Context, key product.Key) (product.Snapshot, bool) {
	settings := s.currentSettings()

	start := time.Now()
	snap, err := s.client.Fetch(ctx, key)
	s.metrics.ObserveUpstream(upstream.Classify(err), time.Since(start))
	if err != nil {
		s.logger.Warn("upstream fetch failed",
			slog.String("key", key.CacheKey()),
			slog.String("class", upstream.Classify(err)),
			slog.Any("error", err))
		if settings.DisableFallback {
			// Debug branch: failures surface as visitor notices instead of
			// feeding the breaker, so outages can be induced during testing
			// without tripping fallback mode.
			s.notices.RecordCtx(ctx, err.Error())
		} else {
			s.tracker.RecordFailure()
		}
		return product.Snapshot{}, false
	}

	if adjusted, ruleErr := settings.PriceRule.Apply(snap); ruleErr != nil {
		s.logger.Error("price rule failed, using upstream prices", slog.Any("error", ruleErr))
	} else {
		snap = adjusted
	}

	s.tracker.RecordSuccess()

	storedAt := time.Now().UTC()
	storeErr := s.cache.Store(ctx, key, cache.Entry{
		Snapshot:  snap,
		StoredAt:  storedAt,
		ExpiresAt: storedAt.Add(settings.TTL),
	})
	s.metrics.ObserveCacheStore(storeErr)
	if storeErr != nil {
		s.logger.Warn("cache store failed", slog.String("key", key.CacheKey()), slog.Any("error", storeErr))
	}
	return snap, true
}

// Status reports the overlay's operational state.
func (s *Service) Status(ctx context.Context) Status {
	size, err := s.cache.Size(ctx)
	if err != nil {
		s.logger.Warn("cache size failed", slog.Any("error", err))
		size = -1
	}
	configured := s.client != nil && s.client.Configured()
	return Status{
		Configured: configured,
		Fallback:   s.tracker.Status(),
		CacheSize:  size,
		PriceRule:  s.currentSettings().PriceRule.Source(),
	}
}

// Reconnect resets the failure state, empties the cache, and probes the
// upstream endpoint. The probe result is reported to the caller but does not
// re-trip the breaker; the next organic lookup decides that.
func (s *Service) Reconnect(ctx context.Context) error {
	s.tracker.Reset()
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Warn("cache clear during reconnect failed", slog.Any("error", err))
	}
	if s.client == nil || !s.client.Configured() {
		return nil
	}
	if err := s.client.TestConnection(ctx); err != nil {
		s.logger.Warn("connectivity probe failed", slog.Any("error", err))
		return err
	}
	s.logger.Info("upstream connectivity restored")
	return nil
}

// ClearCache drops every cached snapshot.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

// Invalidate drops a single cached snapshot.
func (s *Service) Invalidate(ctx context.Context, key product.Key) error {
	return s.cache.Invalidate(ctx, key)
}

// ApplySettings swaps the mutable settings and prunes the cache, mirroring
// the settings-change behavior of the admin surface: stale entries priced or
// aged under the old settings must not survive a reconfiguration.
func (s *Service) ApplySettings(ctx context.Context, settings Settings) {
	if settings.TTL <= 0 {
		settings.TTL = 5 * time.Minute
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Warn("cache clear after settings change failed", slog.Any("error", err))
	}
	s.logger.Info("overlay settings applied",
		slog.Duration("ttl", settings.TTL),
		slog.Bool("fallback_disabled", settings.DisableFallback))
}

func (s *Service) currentSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Close releases the cache backend.
func (s *Service) Close(ctx context.Context) error {
	return s.cache.Close(ctx)
}
