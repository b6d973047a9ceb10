package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/granverde/stocklink/internal/product"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultProbeTimeout = 10 * time.Second
	defaultMaxRedirects = 5
	userAgent           = "stocklink/1.0"

	// maxBodyBytes bounds how much of an upstream response we will buffer.
	maxBodyBytes = 1 << 20
)

// httpDoer is the slice of http.Client the fetch path needs, kept narrow so
// tests can count and script calls.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config carries the upstream endpoint settings. Zero timeout and redirect
// values fall back to the documented defaults (15s fetch, 10s probe, 5 hops).
type Config struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	MaxRedirects int
}

// Client performs the external product fetch and classifies every failure
// mode into a typed error. It never panics and never returns an untyped error
// from Fetch.
type Client struct {
	endpoint     string
	apiKey       string
	probeTimeout time.Duration
	client       httpDoer
	logger       *slog.Logger
}

// New builds an upstream client with TLS verification enabled, a bounded
// request timeout, and a bounded redirect count.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Client{
		endpoint:     strings.TrimSpace(cfg.Endpoint),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		probeTimeout: probeTimeout,
		client:       httpClient,
		logger:       logger.With(slog.String("component", "upstream")),
	}
}

// Configured reports whether both endpoint and key are present. Callers treat
// an unconfigured client as a permanent no-data source.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.apiKey != ""
}

// Fetch requests the latest snapshot for the given product key. Every failure
// is one of *TransportError, *StatusError, *ParseError, or *APIError.
func (c *Client) Fetch(ctx context.Context, key product.Key) (product.Snapshot, error) {
	body, err := c.get(ctx, key)
	if err != nil {
		return product.Snapshot{}, err
	}
	return parseSnapshot(body)
}

// TestConnection probes the endpoint with a sentinel key and a shorter
// timeout. A reachable endpoint that rejects the probe sku still counts as
// connected when it answers with well-formed JSON.
func (c *Client) TestConnection(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	body, err := c.get(probeCtx, product.Key{SKU: "connectivity-probe"})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			// The API answered; an unknown-sku complaint proves connectivity.
			return nil
		}
		return err
	}
	_, err = parseSnapshot(body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) get(ctx context.Context, key product.Key) ([]byte, error) {
	target, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("endpoint url: %w", err)}
	}
	query := target.Query()
	query.Set("sku", key.SKU)
	query.Set("api_key", c.apiKey)
	if key.ProductID > 0 {
		query.Set("product_id", strconv.FormatInt(key.ProductID, 10))
	}
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return body, nil
}

// parseSnapshot interprets the upstream payload. The API either nests product
// fields under "product" or returns them flat; "price_mxn" wins over "price"
// when both are present.
func parseSnapshot(body []byte) (product.Snapshot, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return product.Snapshot{}, &ParseError{Err: err}
	}

	if msg, ok := payload["error"]; ok {
		return product.Snapshot{}, &APIError{Message: stringify(msg)}
	}
	if success, ok := payload["success"]; ok {
		if b, isBool := success.(bool); isBool && !b {
			return product.Snapshot{}, &APIError{Message: stringify(payload["message"])}
		}
	}

	fields := payload
	if nested, ok := payload["product"].(map[string]any); ok {
		fields = nested
	}

	snap := product.Snapshot{}
	if price, ok := numberField(fields, "price_mxn"); ok {
		snap.Price = price
	} else if price, ok := numberField(fields, "price"); ok {
		snap.Price = price
	}
	if regular, ok := numberField(fields, "regular_price"); ok {
		snap.RegularPrice = product.FloatPtr(regular)
	}
	if sale, ok := numberField(fields, "sale_price"); ok {
		snap.SalePrice = product.FloatPtr(sale)
	}
	if stock, ok := numberField(fields, "stock_quantity"); ok {
		snap.StockQuantity = product.IntPtr(int(stock))
	}
	if inStock, ok := fields["in_stock"].(bool); ok {
		snap.InStock = product.BoolPtr(inStock)
	}
	return snap, nil
}

// numberField tolerates both JSON numbers and numeric strings, which the
// upstream API emits interchangeably.
func numberField(fields map[string]any, name string) (float64, bool) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

// Classify maps a fetch error onto a stable label for metrics and logs.
func Classify(err error) string {
	var (
		transportErr *TransportError
		statusErr    *StatusError
		parseErr     *ParseError
		apiErr       *APIError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &statusErr):
		return "status_error"
	case errors.As(err, &parseErr):
		return "parse_error"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "unknown"
	}
}
