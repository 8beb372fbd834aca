package service

// PricingPolicy holds the checkout rate policy. Values come from
// configuration; nothing in the order workflow hard-codes them.
type PricingPolicy struct {
	TaxRateBasisPoints    int   // 800 = 8%
	FreeShippingThreshold int64 // cents; subtotals strictly above ship free
	FlatShippingFee       int64 // cents
}

// Totals derives the tax, shipping and grand total for a subtotal. All
// amounts are cents; tax rounds down, matching integer division.
func (p PricingPolicy) Totals(subtotal int64) (tax, shipping, total int64) {
	tax = subtotal * int64(p.TaxRateBasisPoints) / 10000
	if subtotal <= p.FreeShippingThreshold {
		shipping = p.FlatShippingFee
	}
	return tax, shipping, subtotal + tax + shipping
}
