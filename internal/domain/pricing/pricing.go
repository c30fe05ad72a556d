// Package pricing computes the server-side price breakdown for a cart.
//
// The computation is pure and deterministic: given the same cart it always
// produces the same breakdown, so it is used both to price a new order and to
// re-verify any client-submitted total.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// taxRate is applied to the items subtotal.
	taxRate = decimal.NewFromFloat(0.18)
	// freeShippingThreshold is the subtotal above which shipping is free.
	freeShippingThreshold = decimal.NewFromInt(500)
	// flatShipping is charged for subtotals at or below the threshold.
	flatShipping = decimal.NewFromInt(50)
)

// CartItem is a single cart line as submitted by the client. Prices are
// looked up or verified server-side before an order is created.
type CartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Breakdown holds the derived price components of an order.
// TotalPrice always equals ItemsPrice + ShippingPrice + TaxPrice.
type Breakdown struct {
	ItemsPrice    decimal.Decimal `json:"itemsPrice"`
	ShippingPrice decimal.Decimal `json:"shippingPrice"`
	TaxPrice      decimal.Decimal `json:"taxPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

// InvalidCartError indicates the cart cannot be priced.
type InvalidCartError struct {
	ProductID string
	Reason    string
}

func (e *InvalidCartError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("invalid cart: %s", e.Reason)
	}
	return fmt.Sprintf("invalid cart item %s: %s", e.ProductID, e.Reason)
}

// Compute derives the full price breakdown from the cart items.
//
// ItemsPrice is the sum of unit price times quantity rounded to 2 decimal
// places, shipping is free above the threshold, tax is 18% of the subtotal.
func Compute(items []CartItem) (Breakdown, error) {
	if len(items) == 0 {
		return Breakdown{}, &InvalidCartError{Reason: "cart is empty"}
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			return Breakdown{}, &InvalidCartError{
				ProductID: item.ProductID,
				Reason:    "quantity must be greater than 0",
			}
		}
		if item.UnitPrice.IsNegative() {
			return Breakdown{}, &InvalidCartError{
				ProductID: item.ProductID,
				Reason:    "unit price must not be negative",
			}
		}
		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(item.UnitPrice.Mul(qty))
	}

	itemsPrice := subtotal.Round(2)

	shipping := flatShipping
	if itemsPrice.GreaterThan(freeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := itemsPrice.Mul(taxRate).Round(2)

	return Breakdown{
		ItemsPrice:    itemsPrice,
		ShippingPrice: shipping,
		TaxPrice:      tax,
		TotalPrice:    itemsPrice.Add(shipping).Add(tax),
	}, nil
}
