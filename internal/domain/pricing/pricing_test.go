package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, price string, qty int) CartItem {
	return CartItem{
		ProductID: id,
		Name:      "item " + id,
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
	}
}

func TestCompute_FreeShippingAboveThreshold(t *testing.T) {
	b, err := Compute([]CartItem{item("p1", "300", 2)})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("600").Equal(b.ItemsPrice))
	assert.True(t, decimal.Zero.Equal(b.ShippingPrice))
	assert.True(t, decimal.RequireFromString("108.00").Equal(b.TaxPrice))
	assert.True(t, decimal.RequireFromString("708.00").Equal(b.TotalPrice))
}

func TestCompute_FlatShippingBelowThreshold(t *testing.T) {
	b, err := Compute([]CartItem{item("p1", "100", 3)})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("300").Equal(b.ItemsPrice))
	assert.True(t, decimal.RequireFromString("50").Equal(b.ShippingPrice))
	assert.True(t, decimal.RequireFromString("54.00").Equal(b.TaxPrice))
	assert.True(t, decimal.RequireFromString("404.00").Equal(b.TotalPrice))
}

func TestCompute_ThresholdIsExclusive(t *testing.T) {
	// Exactly 500 still pays flat shipping; only strictly above is free.
	b, err := Compute([]CartItem{item("p1", "500", 1)})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("50").Equal(b.ShippingPrice))

	b, err = Compute([]CartItem{item("p1", "500.01", 1)})
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(b.ShippingPrice))
}

func TestCompute_TotalIsSumOfParts(t *testing.T) {
	carts := [][]CartItem{
		{item("a", "19.99", 3)},
		{item("a", "0.01", 1)},
		{item("a", "123.45", 2), item("b", "6.78", 9)},
		{item("a", "0", 5)},
	}
	for _, cart := range carts {
		b, err := Compute(cart)
		require.NoError(t, err)
		sum := b.ItemsPrice.Add(b.ShippingPrice).Add(b.TaxPrice)
		assert.True(t, sum.Equal(b.TotalPrice), "total %s != sum %s", b.TotalPrice, sum)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	cart := []CartItem{item("a", "33.33", 3), item("b", "0.07", 11)}

	first, err := Compute(cart)
	require.NoError(t, err)
	second, err := Compute(cart)
	require.NoError(t, err)

	assert.Equal(t, first.TotalPrice.String(), second.TotalPrice.String())
	assert.Equal(t, first.TaxPrice.String(), second.TaxPrice.String())
}

func TestCompute_EmptyCart(t *testing.T) {
	_, err := Compute(nil)

	var icErr *InvalidCartError
	require.ErrorAs(t, err, &icErr)
	assert.Empty(t, icErr.ProductID)
}

func TestCompute_NonPositiveQuantity(t *testing.T) {
	for _, qty := range []int{0, -1} {
		_, err := Compute([]CartItem{item("p1", "10.00", qty)})

		var icErr *InvalidCartError
		require.ErrorAs(t, err, &icErr)
		assert.Equal(t, "p1", icErr.ProductID)
	}
}

func TestCompute_NegativePrice(t *testing.T) {
	_, err := Compute([]CartItem{item("p1", "-0.01", 1)})

	var icErr *InvalidCartError
	require.ErrorAs(t, err, &icErr)
	assert.Equal(t, "p1", icErr.ProductID)
}
