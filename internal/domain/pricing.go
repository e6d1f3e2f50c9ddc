package domain

// PricingRules configures the fees applied when an order is priced.
type PricingRules struct {
	ShippingFee       int64
	FreeShippingAbove int64
	GiftWrapFee       int64
}

// DefaultPricingRules returns the storefront defaults: 50 shipping, free strictly above 1000, 50 for gift wrap.
func DefaultPricingRules() PricingRules {
	return PricingRules{
		ShippingFee:       50,
		FreeShippingAbove: 1000,
		GiftWrapFee:       50,
	}
}

// ShippingFor returns the shipping charge for the given subtotal.
func (r PricingRules) ShippingFor(subtotal int64) int64 {
	if subtotal > r.FreeShippingAbove {
		return 0
	}
	return r.ShippingFee
}

// Price computes the breakdown for the supplied item snapshots. The discount is clamped so the
// total never drops below the fees.
func (r PricingRules) Price(items []OrderItem, discount Discount, giftWrap bool) Pricing {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}
	if discount.Amount < 0 {
		discount.Amount = 0
	}
	if discount.Amount > subtotal {
		discount.Amount = subtotal
	}
	pricing := Pricing{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: r.ShippingFor(subtotal),
	}
	if giftWrap {
		pricing.GiftWrapCharges = r.GiftWrapFee
	}
	pricing.Total = pricing.Subtotal - pricing.Discount.Amount + pricing.Shipping + pricing.GiftWrapCharges
	return pricing
}

// Balanced reports whether the total matches its components.
func (p Pricing) Balanced() bool {
	return p.Total == p.Subtotal-p.Discount.Amount+p.Shipping+p.GiftWrapCharges
}

// MinorUnits converts a whole-unit amount to the gateway's minor units.
func MinorUnits(amount int64) int64 {
	return amount * 100
}
