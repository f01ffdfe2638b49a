// Package pricing holds the pure money arithmetic for order totals and
// coupon discounts. Everything here is side-effect free; the store layer
// persists whatever comes out.
package pricing

import (
	"github.com/merced/commerce-core/internal/models"
	"github.com/shopspring/decimal"
)

// Rules captures the configured pricing policy for one deployment.
type Rules struct {
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// Breakdown is the monetary decomposition of an order. The conservation
// invariant FinalAmount == round2(Total - Discount + Shipping + Tax) holds
// for every value this package produces.
type Breakdown struct {
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	FinalAmount    decimal.Decimal
}

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ShippingFor returns zero for orders at or above the free-shipping
// threshold, the flat fee otherwise.
func (r Rules) ShippingFor(totalAmount decimal.Decimal) decimal.Decimal {
	if totalAmount.GreaterThanOrEqual(r.FreeShippingThreshold) {
		return decimal.Zero
	}
	return r.ShippingFee
}

// TaxFor applies the flat tax rate to the pre-discount total.
func (r Rules) TaxFor(totalAmount decimal.Decimal) decimal.Decimal {
	return Round2(totalAmount.Mul(r.TaxRate))
}

// Compute assembles the full breakdown for a given item total and discount.
func (r Rules) Compute(totalAmount, discountAmount decimal.Decimal) Breakdown {
	shipping := r.ShippingFor(totalAmount)
	tax := r.TaxFor(totalAmount)
	return Breakdown{
		TotalAmount:    totalAmount,
		DiscountAmount: discountAmount,
		ShippingAmount: shipping,
		TaxAmount:      tax,
		FinalAmount:    Round2(totalAmount.Sub(discountAmount).Add(shipping).Add(tax)),
	}
}

// Discount computes the coupon discount for an order amount: percentage
// coupons take value% of the amount, fixed coupons take the value itself,
// both clamped to the optional cap and never above the order amount.
func Discount(c *models.Coupon, orderAmount decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Type {
	case models.CouponTypePercentage:
		d = orderAmount.Mul(c.Value).Div(decimal.NewFromInt(100))
	case models.CouponTypeFixed:
		d = c.Value
	default:
		return decimal.Zero
	}

	if c.MaxDiscountAmount != nil && d.GreaterThan(*c.MaxDiscountAmount) {
		d = *c.MaxDiscountAmount
	}
	if d.GreaterThan(orderAmount) {
		d = orderAmount
	}
	return Round2(d)
}
