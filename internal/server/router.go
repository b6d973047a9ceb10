package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/granverde/stocklink/internal/host"
	"github.com/granverde/stocklink/internal/messages"
	"github.com/granverde/stocklink/internal/notices"
	"github.com/granverde/stocklink/internal/overlay"
	"github.com/granverde/stocklink/internal/product"
	"github.com/granverde/stocklink/internal/reconcile"
)

// sessionHeader carries the visitor's session id so displayable errors can be
// buffered per session.
const sessionHeader = "X-Session-ID"

// API exposes the purchase-funnel hooks and administrative operations over
// HTTP. The host's request pipeline calls the hook routes synchronously at
// each extension point.
type API struct {
	overlay    *overlay.Service
	reconciler *reconcile.Reconciler
	store      host.Store
	notices    *notices.Buffer
	catalog    *messages.Catalog
	logger     *slog.Logger
}

// NewAPI wires the HTTP facade to its collaborators.
func NewAPI(logger *slog.Logger, svc *overlay.Service, rec *reconcile.Reconciler, store host.Store, buf *notices.Buffer, catalog *messages.Catalog) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog, _ = messages.NewCatalog("", "")
	}
	return &API{
		overlay:    svc,
		reconciler: rec,
		store:      store,
		notices:    buf,
		catalog:    catalog,
		logger:     logger.With(slog.String("component", "http")),
	}
}

// Handler builds the route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/view", a.handleView)
	mux.HandleFunc("POST /hooks/cart/validate", a.handleCartValidate)
	mux.HandleFunc("POST /hooks/cart/commit", a.handleCartCommit)
	mux.HandleFunc("POST /hooks/checkout/validate", a.handleCheckoutValidate)
	mux.HandleFunc("POST /hooks/order/complete", a.handleOrderComplete)
	mux.HandleFunc("GET /lookup", a.handleLookup)
	mux.HandleFunc("GET /notices", a.handleNotices)
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /reconnect", a.handleReconnect)
	mux.HandleFunc("POST /cache/clear", a.handleCacheClear)
	mux.HandleFunc("POST /sync/{productID}", a.handleForceSync)
	mux.HandleFunc("PUT /products", a.handleSeedProduct)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	return mux
}

// handleSeedProduct lets the host push its product mirror into the in-memory
// store. Deployments backed by the host's own storage answer 501 here.
func (a *API) handleSeedProduct(w http.ResponseWriter, r *http.Request) {
	seeder, ok := a.store.(interface{ Seed(rec host.ProductRecord) })
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"message": "host store does not accept pushes"})
		return
	}
	var rec host.ProductRecord
	if !a.decode(w, r, &rec) {
		return
	}
	if rec.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "product id required"})
		return
	}
	seeder.Seed(rec)
	w.WriteHeader(http.StatusNoContent)
}

type viewRequest struct {
	ProductID int64 `json:"productId"`
}

func (a *API) handleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.reconciler.ProductViewed(a.sessionCtx(r), req.ProductID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCartValidate(w http.ResponseWriter, r *http.Request) {
	var req reconcile.CartAddRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.reconciler.ValidateCartAdd(a.sessionCtx(r), req)
	if err != nil {
		var stockErr *reconcile.InsufficientStockError
		if errors.As(err, &stockErr) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"productId": stockErr.ProductID,
				"requested": stockErr.Requested,
				"available": stockErr.Available,
				"message":   stockErr.Error(),
			})
			return
		}
		a.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCartCommit(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.reconciler.CommitCartAdd(a.sessionCtx(r), req.ProductID)
	w.WriteHeader(http.StatusAccepted)
}

type checkoutRequest struct {
	Lines []host.CartLine `json:"lines"`
}

func (a *API) handleCheckoutValidate(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.reconciler.ValidateCheckout(a.sessionCtx(r), req.Lines)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"errors": lineErrors(err),
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderRequest struct {
	OrderID string          `json:"orderId"`
	Lines   []host.CartLine `json:"lines"`
}

func (a *API) handleOrderComplete(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.reconciler.OrderCompleted(a.sessionCtx(r), req.OrderID, req.Lines)
	if err != nil {
		var cancelErr *reconcile.OrderCancelledError
		if errors.As(err, &cancelErr) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"orderId":   cancelErr.OrderID,
				"productId": cancelErr.ProductID,
				"reason":    cancelErr.Reason,
			})
			return
		}
		a.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLookup answers price/stock resolution for display filters. Overlay
// no-data falls back to the host record; the response names its source so the
// host can tell live data from its own.
func (a *API) handleLookup(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	productID, _ := strconv.ParseInt(query.Get("product_id"), 10, 64)
	key := product.Key{ProductID: productID, SKU: query.Get("sku")}
	if !key.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "product_id or sku required"})
		return
	}

	ctx := a.sessionCtx(r)
	if snap, ok := a.overlay.Lookup(ctx, key); ok {
		writeJSON(w, http.StatusOK, map[string]any{"source": "upstream", "snapshot": snap})
		return
	}
	if productID > 0 {
		if rec, err := a.store.Product(ctx, productID); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"source": "host", "product": rec})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"message": "product unknown"})
}

func (a *API) handleNotices(w http.ResponseWriter, r *http.Request) {
	session := r.Header.Get(sessionHeader)
	messages := a.notices.Drain(session)
	if messages == nil {
		messages = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": messages})
}

// handleStatus reports the operator panel payload. While fallback mode is
// active the rendered notice rides along so the panel can display it verbatim.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := a.overlay.Status(r.Context())
	log, err := a.store.SyncLog(r.Context())
	if err != nil {
		a.logger.Warn("sync log read failed", slog.Any("error", err))
	}
	payload := map[string]any{
		"overlay": status,
		"syncLog": log,
	}
	if status.Fallback.FallbackActive {
		payload["notice"] = a.catalog.FallbackNotice(messages.FallbackNoticeData{
			Failures:  status.Fallback.Count,
			Remaining: status.Fallback.CooldownRemaining.Round(time.Second).String(),
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleReconnect(w http.ResponseWriter, r *http.Request) {
	err := a.overlay.Reconnect(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": err == nil,
	})
}

func (a *API) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := a.overlay.ClearCache(r.Context()); err != nil {
		a.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleForceSync(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.PathValue("productID"), 10, 64)
	if err != nil || productID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid product id"})
		return
	}
	synced := a.reconciler.ForceSync(r.Context(), productID)
	writeJSON(w, http.StatusOK, map[string]any{"synced": synced})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) sessionCtx(r *http.Request) context.Context {
	return notices.WithSession(r.Context(), r.Header.Get(sessionHeader))
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid request body"})
		return false
	}
	return true
}

func (a *API) internalError(w http.ResponseWriter, err error) {
	a.logger.Error("request failed", slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "internal error"})
}

// lineErrors flattens an errors.Join result into per-line payloads.
func lineErrors(err error) []map[string]any {
	var out []map[string]any
	var collect func(error)
	collect = func(e error) {
		if e == nil {
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				collect(inner)
			}
			return
		}
		var stockErr *reconcile.InsufficientStockError
		if errors.As(e, &stockErr) {
			out = append(out, map[string]any{
				"productId": stockErr.ProductID,
				"requested": stockErr.Requested,
				"available": stockErr.Available,
				"message":   stockErr.Error(),
			})
			return
		}
		out = append(out, map[string]any{"message": e.Error()})
	}
	collect(err)
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
