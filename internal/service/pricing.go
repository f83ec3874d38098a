package service

import (
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/config"
)

// PricingPolicy derives tax, shipping and total from a subtotal.
type PricingPolicy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShipping          decimal.Decimal
}

func NewPricingPolicy(cfg config.PricingConfig) PricingPolicy {
	return PricingPolicy{
		TaxRate:               cfg.TaxRate,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		FlatShipping:          cfg.FlatShipping,
	}
}

// Apply rounds tax to cents. Shipping is free at or above the threshold and
// always free when the threshold is zero.
func (p PricingPolicy) Apply(subtotal decimal.Decimal) (tax, shipping, total decimal.Decimal) {
	tax = subtotal.Mul(p.TaxRate).Round(2)
	shipping = decimal.Zero
	if !p.FreeShippingThreshold.IsZero() && subtotal.LessThan(p.FreeShippingThreshold) {
		shipping = p.FlatShipping
	}
	total = subtotal.Add(tax).Add(shipping)
	return tax, shipping, total
}
