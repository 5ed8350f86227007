// Package pricing derives cart totals from line items.
//
// All functions are pure. Amounts are kept at full precision; rounding to the
// currency's minor unit happens only in Format, at presentation time.
package pricing

import (
	"github.com/shopspring/decimal"

	"storefront-service/internal/domain"
)

// MinorUnits is the number of decimal places used when presenting amounts.
const MinorUnits = 2

// LineTotal returns price × quantity for one line.
func LineTotal(item domain.LineItem) decimal.Decimal {
	return item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// Subtotal returns the sum of every line total.
func Subtotal(items []domain.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(LineTotal(item))
	}
	return sum
}

// Tax returns subtotal × rate, where rate is a fraction such as 0.08.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate)
}

// GrandTotal returns subtotal + tax.
func GrandTotal(subtotal, tax decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax)
}

// Quantity returns the total number of units across all lines.
func Quantity(items []domain.LineItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

// Summary is the full set of derived totals for a cart.
type Summary struct {
	ItemCount int             `json:"item_count"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
}

// Summarize computes every total for items at the given tax rate.
func Summarize(items []domain.LineItem, rate decimal.Decimal) Summary {
	subtotal := Subtotal(items)
	tax := Tax(subtotal, rate)
	return Summary{
		ItemCount: len(items),
		Quantity:  Quantity(items),
		Subtotal:  subtotal,
		TaxRate:   rate,
		Tax:       tax,
		Total:     GrandTotal(subtotal, tax),
	}
}

// Format renders an amount with exactly MinorUnits decimal places, rounding
// half away from zero.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(MinorUnits)
}
