// Package reconcile keeps the host's persisted stock aligned with upstream
// truth at five purchase-funnel trigger points. Correctness comes from
// repeated re-validation rather than locking: checkout re-checks every line
// and payment completion re-checks again, resolving any oversell window by
// cancelling the order at the last checkpoint.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/granverde/stocklink/internal/host"
	"github.com/granverde/stocklink/internal/messages"
	"github.com/granverde/stocklink/internal/metrics"
	"github.com/granverde/stocklink/internal/product"
)

// Overlay is the slice of the data overlay the reconciler consumes.
type Overlay interface {
	Lookup(ctx context.Context, key product.Key) (product.Snapshot, bool)
	ForceSync(ctx context.Context, key product.Key) (product.Snapshot, bool)
}

// Config tunes the reconciler's trigger behavior.
type Config struct {
	// ViewRefresh bounds how often a product view triggers a background
	// refresh. Default 10 minutes.
	ViewRefresh time.Duration
	// DebounceWindow is the per-product guard lifetime for cart-add
	// validation. Default 3 seconds.
	DebounceWindow time.Duration
}

// CartAddRequest describes an add-to-cart attempt plus the cart it lands in.
type CartAddRequest struct {
	ProductID   int64           `json:"productId"`
	VariationID int64           `json:"variationId"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	Cart        []host.CartLine `json:"cart"`
}

// Reconciler funnels every trigger through realStock: upstream truth when the
// overlay has it, the host's record otherwise, never an error outward.
type Reconciler struct {
	overlay  Overlay
	store    host.Store
	catalog  *messages.Catalog
	guard    *guard
	metrics  *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
	viewSync time.Duration
}

// New constructs the reconciler.
func New(logger *slog.Logger, overlay Overlay, store host.Store, catalog *messages.Catalog, rec *metrics.Recorder, cfg Config) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	viewSync := cfg.ViewRefresh
	if viewSync <= 0 {
		viewSync = 10 * time.Minute
	}
	return &Reconciler{
		overlay:  overlay,
		store:    store,
		catalog:  catalog,
		guard:    newGuard(cfg.DebounceWindow),
		metrics:  rec,
		logger:   logger.With(slog.String("component", "reconcile")),
		now:      time.Now,
		viewSync: viewSync,
	}
}

// RealStock resolves the effective stock quantity for a product: upstream
// when available, the host record otherwise. It never fails outward; a
// missing host record resolves to zero, preserving checkout availability
// over perfect freshness.
func (r *Reconciler) RealStock(ctx context.Context, productID int64) int {
	rec, err := r.store.Product(ctx, productID)
	if err != nil {
		r.logger.Warn("host record unavailable", slog.Int64("product_id", productID), slog.Any("error", err))
		return 0
	}
	stock, _ := r.liveStock(ctx, rec, false)
	return stock
}

// liveStock is the single stock-resolution primitive behind every trigger:
// upstream truth when the overlay answers with a quantity, the host record
// otherwise. sync bypasses the snapshot cache. The second return reports
// whether the quantity came from upstream.
func (r *Reconciler) liveStock(ctx context.Context, rec host.ProductRecord, sync bool) (int, bool) {
	resolve := r.overlay.Lookup
	if sync {
		resolve = r.overlay.ForceSync
	}
	if snap, ok := resolve(ctx, keyFor(rec)); ok {
		if stock, present := snap.Stock(); present {
			return stock, true
		}
	}
	return rec.StockQuantity, false
}

// ProductViewed refreshes the host record lazily: only when the last sync is
// older than the configured interval. Best effort, nothing propagates.
func (r *Reconciler) ProductViewed(ctx context.Context, productID int64) {
	rec, err := r.store.Product(ctx, productID)
	if err != nil {
		r.metrics.ObserveReconcile("view", "no_record")
		return
	}
	if r.now().Sub(rec.LastSyncedAt) < r.viewSync {
		r.metrics.ObserveReconcile("view", "fresh")
		return
	}
	snap, ok := r.overlay.Lookup(ctx, keyFor(rec))
	if !ok {
		r.metrics.ObserveReconcile("view", "no_data")
		return
	}
	r.applySnapshot(ctx, rec, snap, "view")
	r.metrics.ObserveReconcile("view", "synced")
}

// ValidateCartAdd rejects the add when cart quantity plus the requested
// quantity exceeds live stock. Re-entrant calls for the same product within
// the debounce window skip the upstream check and validate against the host
// record instead.
func (r *Reconciler) ValidateCartAdd(ctx context.Context, req CartAddRequest) error {
	rec, err := r.store.Product(ctx, req.ProductID)
	if err != nil {
		// Nothing to validate against; the host decides on its own data.
		r.metrics.ObserveReconcile("cart_validate", "no_record")
		return nil
	}
	if !rec.ManageStock {
		r.metrics.ObserveReconcile("cart_validate", "unmanaged")
		return nil
	}

	available := rec.StockQuantity
	if r.guard.tryAcquire(req.ProductID) {
		available, _ = r.liveStock(ctx, rec, false)
	}

	requested := req.Quantity + quantityInCart(req.Cart, req.ProductID, req.VariationID)
	if requested > available {
		r.metrics.ObserveReconcile("cart_validate", "rejected")
		return &InsufficientStockError{
			ProductID: req.ProductID,
			Requested: requested,
			Available: available,
			Message: r.catalog.InsufficientStock(messages.InsufficientStockData{
				ProductID: req.ProductID,
				Requested: requested,
				Available: available,
			}),
		}
	}
	r.metrics.ObserveReconcile("cart_validate", "accepted")
	return nil
}

// CommitCartAdd persists fresh price/stock after a validated add so
// subsequent reads see updated values. Best-effort cache-then-write, not a
// reservation: concurrent shoppers may still race past this point, and the
// checkout re-validation catches whatever slips through.
func (r *Reconciler) CommitCartAdd(ctx context.Context, productID int64) {
	rec, err := r.store.Product(ctx, productID)
	if err != nil {
		r.metrics.ObserveReconcile("cart_commit", "no_record")
		return
	}
	snap, ok := r.overlay.ForceSync(ctx, keyFor(rec))
	if !ok {
		r.metrics.ObserveReconcile("cart_commit", "no_data")
		return
	}
	r.applySnapshot(ctx, rec, snap, "cart-add")
	r.metrics.ObserveReconcile("cart_commit", "synced")
}

// ValidateCheckout re-verifies every cart line against the host record and a
// fresh upstream fetch. Upstream disagreement corrects the host record and is
// logged as a critical desync. Quantity overruns fail the line; all failures
// are joined so the host can surface each one.
func (r *Reconciler) ValidateCheckout(ctx context.Context, lines []host.CartLine) error {
	var errs []error
	for _, line := range lines {
		rec, err := r.store.Product(ctx, line.ProductID)
		if err != nil {
			r.logger.Warn("checkout line without host record", slog.Int64("product_id", line.ProductID))
			continue
		}
		if !rec.ManageStock {
			continue
		}

		available, fromUpstream := r.liveStock(ctx, rec, true)
		if fromUpstream && available != rec.StockQuantity {
			r.correctDesync(ctx, rec, available)
		}

		if line.Quantity > available {
			errs = append(errs, &InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
				Message: r.catalog.InsufficientStock(messages.InsufficientStockData{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Available: available,
				}),
			})
		}
	}
	if len(errs) > 0 {
		r.metrics.ObserveReconcile("checkout_validate", "rejected")
		return errors.Join(errs...)
	}
	r.metrics.ObserveReconcile("checkout_validate", "accepted")
	return nil
}

// OrderCompleted performs the final authoritative re-fetch, decrements stock
// by the purchased quantity, and persists the result with a "purchase" log
// entry. Lines sharing a product are folded into one decrement first, since
// upstream reports pre-purchase stock for every re-fetch within the same
// order. A product that lost the race to another buyer cancels the order.
func (r *Reconciler) OrderCompleted(ctx context.Context, orderID string, lines []host.CartLine) error {
	for _, line := range collapseByProduct(lines) {
		rec, err := r.store.Product(ctx, line.ProductID)
		if err != nil {
			r.logger.Warn("order line without host record",
				slog.String("order_id", orderID), slog.Int64("product_id", line.ProductID))
			continue
		}
		if !rec.ManageStock {
			continue
		}

		available, _ := r.liveStock(ctx, rec, true)

		if line.Quantity > available {
			r.metrics.ObserveReconcile("order_complete", "cancelled")
			return &OrderCancelledError{
				OrderID:   orderID,
				ProductID: line.ProductID,
				Reason: r.catalog.InsufficientStock(messages.InsufficientStockData{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Available: available,
				}),
			}
		}

		newStock := available - line.Quantity
		if err := r.store.UpdateStock(ctx, line.ProductID, newStock); err != nil {
			r.logger.Error("stock decrement failed",
				slog.String("order_id", orderID),
				slog.Int64("product_id", line.ProductID),
				slog.Any("error", err))
			continue
		}
		r.appendLog(ctx, host.SyncLogEntry{
			Timestamp: r.now().UTC(),
			ProductID: line.ProductID,
			OldStock:  available,
			NewStock:  newStock,
			Reason:    "purchase",
		})
		if err := r.store.TouchSynced(ctx, line.ProductID, r.now().UTC()); err != nil {
			r.logger.Warn("sync timestamp update failed", slog.Int64("product_id", line.ProductID), slog.Any("error", err))
		}
		r.metrics.ObserveStockCorrection("purchase")
	}
	r.metrics.ObserveReconcile("order_complete", "completed")
	return nil
}

// ForceSync is the administrative "sync this product now" operation: bypass
// the cache, fetch fresh, persist. Returns false when the overlay had no data.
func (r *Reconciler) ForceSync(ctx context.Context, productID int64) bool {
	rec, err := r.store.Product(ctx, productID)
	if err != nil {
		r.metrics.ObserveReconcile("force_sync", "no_record")
		return false
	}
	snap, ok := r.overlay.ForceSync(ctx, keyFor(rec))
	if !ok {
		r.metrics.ObserveReconcile("force_sync", "no_data")
		return false
	}
	r.applySnapshot(ctx, rec, snap, "manual")
	r.metrics.ObserveReconcile("force_sync", "synced")
	return true
}

// correctDesync overwrites the host record with upstream truth. Self-healing:
// logged loudly for operators but never surfaced to the visitor.
func (r *Reconciler) correctDesync(ctx context.Context, rec host.ProductRecord, stock int) {
	r.logger.Error("critical stock desync detected",
		slog.Int64("product_id", rec.ID),
		slog.Int("host_stock", rec.StockQuantity),
		slog.Int("upstream_stock", stock))
	if err := r.store.UpdateStock(ctx, rec.ID, stock); err != nil {
		r.logger.Error("desync correction failed", slog.Int64("product_id", rec.ID), slog.Any("error", err))
		return
	}
	r.appendLog(ctx, host.SyncLogEntry{
		Timestamp: r.now().UTC(),
		ProductID: rec.ID,
		OldStock:  rec.StockQuantity,
		NewStock:  stock,
		Reason:    "desync",
	})
	r.metrics.ObserveStockCorrection("desync")
}

// applySnapshot writes a fetched snapshot's stock and prices through to the
// host record.
func (r *Reconciler) applySnapshot(ctx context.Context, rec host.ProductRecord, snap product.Snapshot, reason string) {
	if stock, present := snap.Stock(); present && rec.ManageStock && stock != rec.StockQuantity {
		if err := r.store.UpdateStock(ctx, rec.ID, stock); err != nil {
			r.logger.Warn("stock update failed", slog.Int64("product_id", rec.ID), slog.Any("error", err))
		} else {
			r.appendLog(ctx, host.SyncLogEntry{
				Timestamp: r.now().UTC(),
				ProductID: rec.ID,
				OldStock:  rec.StockQuantity,
				NewStock:  stock,
				Reason:    reason,
			})
			r.metrics.ObserveStockCorrection(reason)
		}
	}
	if snap.Price > 0 {
		regular := rec.RegularPrice
		if snap.RegularPrice != nil {
			regular = *snap.RegularPrice
		}
		sale := rec.SalePrice
		if snap.SalePrice != nil {
			sale = *snap.SalePrice
		}
		if err := r.store.UpdatePrices(ctx, rec.ID, snap.Price, regular, sale); err != nil {
			r.logger.Warn("price update failed", slog.Int64("product_id", rec.ID), slog.Any("error", err))
		}
	}
	if err := r.store.TouchSynced(ctx, rec.ID, r.now().UTC()); err != nil {
		r.logger.Warn("sync timestamp update failed", slog.Int64("product_id", rec.ID), slog.Any("error", err))
	}
}

func (r *Reconciler) appendLog(ctx context.Context, entry host.SyncLogEntry) {
	if err := r.store.AppendSyncLog(ctx, entry); err != nil {
		r.logger.Warn("sync log append failed", slog.Int64("product_id", entry.ProductID), slog.Any("error", err))
	}
}

// collapseByProduct folds cart lines that share a product (variations of the
// same parent) into a single quantity, preserving first-seen order.
func collapseByProduct(lines []host.CartLine) []host.CartLine {
	index := make(map[int64]int, len(lines))
	out := make([]host.CartLine, 0, len(lines))
	for _, line := range lines {
		if at, ok := index[line.ProductID]; ok {
			out[at].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, host.CartLine{ProductID: line.ProductID, SKU: line.SKU, Quantity: line.Quantity})
	}
	return out
}

func keyFor(rec host.ProductRecord) product.Key {
	return product.Key{ProductID: rec.ID, SKU: rec.SKU}
}

func quantityInCart(cart []host.CartLine, productID, variationID int64) int {
	total := 0
	for _, line := range cart {
		if line.ProductID == productID && line.VariationID == variationID {
			total += line.Quantity
		}
	}
	return total
}
