// Package messages renders the operator-configurable storefront texts. The
// templates are ordinary text/template sources with the sprig function map,
// so deployments can localize or rephrase without code changes.
package messages

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

const (
	// DefaultInsufficientStock mirrors the storefront validation message.
	DefaultInsufficientStock = "insufficient stock, {{ .Available }} available"
	// DefaultFallbackNotice is shown on the operator status panel while
	// fallback mode is active.
	DefaultFallbackNotice = "external price service unavailable, showing catalog prices ({{ .Remaining }} until retry)"
)

// InsufficientStockData feeds the insufficient-stock template.
type InsufficientStockData struct {
	ProductID int64
	Requested int
	Available int
}

// FallbackNoticeData feeds the fallback-mode template.
type FallbackNoticeData struct {
	Failures  int
	Remaining string
}

// Catalog holds the compiled message templates.
type Catalog struct {
	insufficientStock *template.Template
	fallbackNotice    *template.Template
}

// NewCatalog compiles the configured sources, falling back to the defaults
// for empty fields. Compilation errors surface at startup, not render time.
func NewCatalog(insufficientStock, fallbackNotice string) (*Catalog, error) {
	is, err := compile("insufficient_stock", insufficientStock, DefaultInsufficientStock)
	if err != nil {
		return nil, err
	}
	fn, err := compile("fallback_notice", fallbackNotice, DefaultFallbackNotice)
	if err != nil {
		return nil, err
	}
	return &Catalog{insufficientStock: is, fallbackNotice: fn}, nil
}

// InsufficientStock renders the user-facing rejection message.
func (c *Catalog) InsufficientStock(data InsufficientStockData) string {
	return render(c.insufficientStock, data, fmt.Sprintf("insufficient stock, %d available", data.Available))
}

// FallbackNotice renders the operator notice.
func (c *Catalog) FallbackNotice(data FallbackNoticeData) string {
	return render(c.fallbackNotice, data, "external price service unavailable")
}

func compile(name, source, fallbackSource string) (*template.Template, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		trimmed = fallbackSource
	}
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("messages: compile %s: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data any, fallbackText string) string {
	if tmpl == nil {
		return fallbackText
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fallbackText
	}
	return buf.String()
}
