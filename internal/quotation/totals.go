package quotation

import (
	"math"

	"github.com/shopspring/decimal"
)

// Totals holds the aggregate amounts computed from a quotation's items.
type Totals struct {
	Subtotal      float64 `json:"subtotal"`
	TotalDiscount float64 `json:"total_discount"`
	TaxTotal      float64 `json:"tax_total"`
	GrandTotal    float64 `json:"grand_total"`
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals annotates each item with its discount, tax and line total and
// returns the aggregate sums. Amounts are rounded half-up at the cent, per
// line and again on the sums, so GrandTotal always equals Subtotal plus
// TaxTotal and repeated invocations on the same input agree bit for bit.
//
// Malformed numeric input (NaN, infinities) is coerced to zero rather than
// rejected; quotation creation stays usable on partial client data.
func ComputeTotals(items []Item) ([]Item, Totals) {
	out := make([]Item, len(items))
	var subtotal, totalDiscount, taxTotal decimal.Decimal

	for i, item := range items {
		gross := money(item.Quantity).Mul(money(item.UnitPrice))
		discount := roundCents(gross.Mul(money(item.DiscountPercent)).Div(hundred))
		taxable := roundCents(gross.Sub(discount))
		tax := roundCents(taxable.Mul(money(item.TaxPercent)).Div(hundred))
		lineTotal := taxable.Add(tax)

		item.Quantity = money(item.Quantity).InexactFloat64()
		item.UnitPrice = money(item.UnitPrice).InexactFloat64()
		item.DiscountPercent = money(item.DiscountPercent).InexactFloat64()
		item.TaxPercent = money(item.TaxPercent).InexactFloat64()
		item.DiscountAmount = discount.InexactFloat64()
		item.TaxAmount = tax.InexactFloat64()
		item.LineTotal = lineTotal.InexactFloat64()
		out[i] = item

		subtotal = subtotal.Add(taxable)
		totalDiscount = totalDiscount.Add(discount)
		taxTotal = taxTotal.Add(tax)
	}

	subtotal = roundCents(subtotal)
	taxTotal = roundCents(taxTotal)

	return out, Totals{
		Subtotal:      subtotal.InexactFloat64(),
		TotalDiscount: roundCents(totalDiscount).InexactFloat64(),
		TaxTotal:      taxTotal.InexactFloat64(),
		GrandTotal:    subtotal.Add(taxTotal).InexactFloat64(),
	}
}

func money(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func roundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
