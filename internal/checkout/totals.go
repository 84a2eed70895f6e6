// Package checkout prices carts and turns them into orders.
package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/saltyorg/cookieshop/internal/store"
)

// PromoCode is the storefront's only discount code
const PromoCode = "COOKIE20"

// ErrInvalidDiscount is returned for discounts outside [0, 1)
var ErrInvalidDiscount = errors.New("discount must be a fraction between 0 and 1")

// Pricing holds the shipping and tax rules
type Pricing struct {
	// FreeShippingThreshold is the discounted subtotal at which shipping is free
	FreeShippingThreshold decimal.Decimal
	ShippingFee           decimal.Decimal
	TaxRate               decimal.Decimal
}

// DefaultPricing is free shipping from 500, a 50 fee below that, and 12% VAT
func DefaultPricing() Pricing {
	return Pricing{
		FreeShippingThreshold: decimal.NewFromInt(500),
		ShippingFee:           decimal.NewFromInt(50),
		TaxRate:               decimal.RequireFromString("0.12"),
	}
}

// Summary is a priced cart. Every amount is rounded to cents.
type Summary struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Shipping float64 `json:"shipping"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	Items    int     `json:"items"`
}

// DiscountFor returns the discount fraction of a promo code. Codes are
// matched ignoring case; an empty code is no discount.
func DiscountFor(code string) (float64, bool) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "":
		return 0, true
	case PromoCode:
		return 0.2, true
	}
	return 0, false
}

// Totals prices items with the given discount fraction. Lines without a
// resolved product are skipped. An empty cart costs nothing, shipping
// included.
func (p Pricing) Totals(items []store.CartItem, discount float64) (Summary, error) {
	if discount < 0 || discount >= 1 {
		return Summary{}, fmt.Errorf("%w: %v", ErrInvalidDiscount, discount)
	}

	subtotal := decimal.Zero
	count := 0
	for _, item := range items {
		if item.Product == nil || item.Quantity <= 0 {
			continue
		}
		line := decimal.NewFromFloat(item.Product.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
		count += item.Quantity
	}
	if count == 0 {
		return Summary{}, nil
	}

	off := subtotal.Mul(decimal.NewFromFloat(discount)).Round(2)
	discounted := subtotal.Sub(off)

	shipping := p.ShippingFee
	if discounted.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax := discounted.Mul(p.TaxRate).Round(2)
	total := discounted.Add(shipping).Add(tax)

	return Summary{
		Subtotal: subtotal.Round(2).InexactFloat64(),
		Discount: off.InexactFloat64(),
		Shipping: shipping.Round(2).InexactFloat64(),
		Tax:      tax.InexactFloat64(),
		Total:    total.Round(2).InexactFloat64(),
		Items:    count,
	}, nil
}
