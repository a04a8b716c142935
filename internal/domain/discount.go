package domain

// ComputeDiscount returns the merchandise discount for an already validated
// coupon applied to the given order amount, in minor currency units.
//
// Percentage discounts round down and are capped at MaxDiscountAmount when
// set. Fixed discounts never exceed the order amount. free_shipping waives
// shipping elsewhere and contributes no merchandise discount. buy_x_get_y has
// no computation rule defined yet and also yields zero.
func ComputeDiscount(c Coupon, orderAmount int64) int64 {
	if orderAmount <= 0 {
		return 0
	}

	switch c.Type {
	case CouponTypePercentage:
		discount := orderAmount * c.DiscountValue / 100
		if c.MaxDiscountAmount != nil && discount > *c.MaxDiscountAmount {
			discount = *c.MaxDiscountAmount
		}
		return discount
	case CouponTypeFixed:
		if c.DiscountValue > orderAmount {
			return orderAmount
		}
		return c.DiscountValue
	default:
		return 0
	}
}
