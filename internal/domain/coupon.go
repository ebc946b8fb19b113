package domain

// Coupon is a percentage discount code.
type Coupon struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	PercentOff    int    `json:"percent_off"`
	RemainingUses int    `json:"remaining_uses"`
	Description   string `json:"description"`
}

// AppliedCoupon is the persisted "one active coupon" state. Absence means no discount.
type AppliedCoupon struct {
	CouponID string `json:"coupon_id"`
	Coupon   Coupon `json:"coupon"`
}

// CouponCheckStatus is the remote verdict for a coupon code.
type CouponCheckStatus string

const (
	CouponCheckOK          CouponCheckStatus = "ok"
	CouponCheckNotFound    CouponCheckStatus = "not_found"
	CouponCheckAlreadyUsed CouponCheckStatus = "already_used"
	CouponCheckExhausted   CouponCheckStatus = "exhausted"
)

// CouponCheck is the response of the remote coupon lookup.
type CouponCheck struct {
	Status CouponCheckStatus `json:"status"`
	Coupon *Coupon           `json:"coupon,omitempty"`
}

// Discount is the price breakdown for a cart total.
type Discount struct {
	TotalPrice     int64 `json:"total_price"`
	DiscountAmount int64 `json:"discount_amount"`
	FinalPrice     int64 `json:"final_price"`
}

// ComputeDiscount applies c to totalPrice. A nil coupon yields no discount.
// The discount is floored; the final price never goes below zero.
func ComputeDiscount(totalPrice int64, c *Coupon) Discount {
	d := Discount{TotalPrice: totalPrice, FinalPrice: totalPrice}
	if c == nil || totalPrice <= 0 {
		d.FinalPrice = max(0, totalPrice)
		return d
	}
	percent := int64(min(max(c.PercentOff, 0), 100))
	d.DiscountAmount = totalPrice * percent / 100
	d.FinalPrice = max(0, totalPrice-d.DiscountAmount)
	return d
}
