package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogDefaults(t *testing.T) {
	catalog, err := NewCatalog("", "")
	require.NoError(t, err)

	msg := catalog.InsufficientStock(InsufficientStockData{ProductID: 42, Requested: 5, Available: 3})
	assert.Equal(t, "insufficient stock, 3 available", msg)

	notice := catalog.FallbackNotice(FallbackNoticeData{Failures: 5, Remaining: "42m"})
	assert.Equal(t, "external price service unavailable, showing catalog prices (42m until retry)", notice)
}

func TestCatalogCustomTemplates(t *testing.T) {
	catalog, err := NewCatalog(
		"only {{ .Available }} of product {{ .ProductID }} left (wanted {{ .Requested }})",
		"offline after {{ .Failures }} failures",
	)
	require.NoError(t, err)

	msg := catalog.InsufficientStock(InsufficientStockData{ProductID: 7, Requested: 4, Available: 1})
	assert.Equal(t, "only 1 of product 7 left (wanted 4)", msg)

	notice := catalog.FallbackNotice(FallbackNoticeData{Failures: 5})
	assert.Equal(t, "offline after 5 failures", notice)
}

func TestCatalogSprigFunctions(t *testing.T) {
	catalog, err := NewCatalog(`{{ "stock low" | upper }}: {{ .Available }}`, "")
	require.NoError(t, err)

	msg := catalog.InsufficientStock(InsufficientStockData{Available: 2})
	assert.Equal(t, "STOCK LOW: 2", msg)
}

func TestCatalogRejectsBadTemplateAtStartup(t *testing.T) {
	_, err := NewCatalog("{{ .Available", "")
	assert.Error(t, err)

	_, err = NewCatalog("", "{{ end }}")
	assert.Error(t, err)
}

func TestCatalogRenderErrorFallsBackToPlainText(t *testing.T) {
	catalog, err := NewCatalog(`{{ fail "boom" }}`, "")
	require.NoError(t, err)

	msg := catalog.InsufficientStock(InsufficientStockData{Available: 3})
	assert.Equal(t, "insufficient stock, 3 available", msg)
}
