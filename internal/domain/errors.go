package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNetworkUnavailable     = errors.New("network unavailable")
	ErrNotAuthenticated       = errors.New("user is not authenticated")
	ErrInventoryExceeded      = errors.New("requested quantity exceeds available stock")
	ErrCouponNotFound         = errors.New("coupon not found")
	ErrCouponAlreadyUsed      = errors.New("coupon already used by this user")
	ErrCouponExhausted        = errors.New("coupon has no remaining uses")
	ErrCouponAlreadyApplied   = errors.New("a coupon is already applied")
	ErrOrderNotCancellable    = errors.New("order cannot be cancelled")
	ErrPersistenceUnavailable = errors.New("persistent store unavailable")

	ErrCartItemNotFound = errors.New("cart item not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrEmptyCart        = errors.New("cart is empty, nothing to checkout")
)

// InventoryExceededError carries the stock ceiling so callers can present it.
type InventoryExceededError struct {
	ProductID string
	Size      Size
	Requested int
	Available int
}

func (e *InventoryExceededError) Error() string {
	return fmt.Sprintf("requested %d of product %s size %s, only %d available",
		e.Requested, e.ProductID, e.Size, e.Available)
}

func (e *InventoryExceededError) Is(target error) bool {
	return target == ErrInventoryExceeded
}

// OrderNotCancellableError explains why a cancellation was refused.
type OrderNotCancellableError struct {
	OrderID string
	Status  OrderStatus
	Paid    bool
}

func (e *OrderNotCancellableError) Error() string {
	if e.Paid {
		return fmt.Sprintf("order %s is already paid", e.OrderID)
	}
	return fmt.Sprintf("order %s is %s", e.OrderID, e.Status)
}

func (e *OrderNotCancellableError) Is(target error) bool {
	return target == ErrOrderNotCancellable
}
