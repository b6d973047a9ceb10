package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyValid(t *testing.T) {
	assert.True(t, Key{ProductID: 1}.Valid())
	assert.True(t, Key{SKU: "SKU-1"}.Valid())
	assert.True(t, Key{ProductID: 1, SKU: "SKU-1"}.Valid())
	assert.False(t, Key{}.Valid())
	assert.False(t, Key{SKU: "   "}.Valid())
	assert.False(t, Key{ProductID: -1}.Valid())
}

func TestKeyCacheKey(t *testing.T) {
	assert.Equal(t, "snapshot:42:SKU-42", Key{ProductID: 42, SKU: "SKU-42"}.CacheKey())
	assert.Equal(t, "snapshot:42:", Key{ProductID: 42}.CacheKey())
	assert.Equal(t, "snapshot:0:SKU-1", Key{SKU: " SKU-1 "}.CacheKey())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "product 42", Key{ProductID: 42}.String())
	assert.Equal(t, "product 42 (sku SKU-42)", Key{ProductID: 42, SKU: "SKU-42"}.String())
}

func TestSnapshotStock(t *testing.T) {
	stock, present := Snapshot{}.Stock()
	assert.False(t, present)
	assert.Equal(t, 0, stock)

	stock, present = Snapshot{StockQuantity: IntPtr(0)}.Stock()
	assert.True(t, present, "an explicit zero is still reported stock")
	assert.Equal(t, 0, stock)
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	src := Snapshot{
		Price:         100,
		RegularPrice:  FloatPtr(120),
		SalePrice:     FloatPtr(100),
		StockQuantity: IntPtr(5),
		InStock:       BoolPtr(true),
	}
	clone := src.Clone()

	*clone.RegularPrice = 999
	*clone.StockQuantity = 0
	*clone.InStock = false

	assert.Equal(t, float64(120), *src.RegularPrice)
	assert.Equal(t, 5, *src.StockQuantity)
	assert.True(t, *src.InStock)
}

func TestSnapshotWithPrices(t *testing.T) {
	src := Snapshot{Price: 100, StockQuantity: IntPtr(5)}
	out := src.WithPrices(116, FloatPtr(139.2), nil)

	assert.Equal(t, float64(116), out.Price)
	assert.Equal(t, float64(139.2), *out.RegularPrice)
	assert.Nil(t, out.SalePrice)
	assert.Equal(t, 5, *out.StockQuantity)
	// Original untouched.
	assert.Equal(t, float64(100), src.Price)
	assert.Nil(t, src.RegularPrice)
}
