package order

import "github.com/shopspring/decimal"

// Pricing holds the tax and shipping policy applied at checkout.
type Pricing struct {
	TaxRate decimal.Decimal
	// FreeShippingOver is the subtotal that must be strictly exceeded for
	// shipping to be free.
	FreeShippingOver decimal.Decimal
	FlatShipping     decimal.Decimal
}

// DefaultPricing is 10% tax and free shipping for subtotals over 100,
// otherwise a flat 10.
func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:          decimal.RequireFromString("0.10"),
		FreeShippingOver: decimal.NewFromInt(100),
		FlatShipping:     decimal.NewFromInt(10),
	}
}

// Totals is the computed money breakdown of an order.
type Totals struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
}

// Compute derives tax, shipping and total from subtotal. Tax is rounded to
// cents.
func (p Pricing) Compute(subtotal decimal.Decimal) Totals {
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(p.TaxRate).Round(2)
	shipping := p.FlatShipping
	if subtotal.GreaterThan(p.FreeShippingOver) {
		shipping = decimal.Zero
	}
	return Totals{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Total:        subtotal.Add(tax).Add(shipping),
	}
}
