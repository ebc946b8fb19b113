package domain

import (
	"fmt"
	"time"
)

// OrderStatus is the remote order lifecycle state.
type OrderStatus int

const (
	OrderStatusCancelled  OrderStatus = 0
	OrderStatusProcessing OrderStatus = 1
	OrderStatusConfirmed  OrderStatus = 2
	OrderStatusShipping   OrderStatus = 3
	OrderStatusCompleted  OrderStatus = 4
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusCancelled:
		return "Cancelled"
	case OrderStatusProcessing:
		return "Processing"
	case OrderStatusConfirmed:
		return "Confirmed"
	case OrderStatusShipping:
		return "Shipping"
	case OrderStatusCompleted:
		return "Completed"
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	return s >= OrderStatusCancelled && s <= OrderStatusCompleted
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
// Forward moves may skip intermediate states (a poll can miss one); cancellation is
// only reachable from processing or confirmed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() || s == next || s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return s == OrderStatusProcessing || s == OrderStatusConfirmed
	}
	return next > s
}

type Order struct {
	ID        string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	Address   string      `json:"address"`
	Total     int64       `json:"total"`
	Status    OrderStatus `json:"status"`
	Paid      bool        `json:"paid"`
	CouponID  string      `json:"coupon_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	NoteRef   string      `json:"note_ref,omitempty"`
}

// Cancellable reports whether the user may still cancel the order.
func (o Order) Cancellable() bool {
	return (o.Status == OrderStatusProcessing || o.Status == OrderStatusConfirmed) && !o.Paid
}

type OrderLineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Size      Size   `json:"size"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderDetail is an order together with its line items.
type OrderDetail struct {
	Order Order           `json:"order"`
	Items []OrderLineItem `json:"items"`
}

// PlaceOrderRequest is sent to the remote API when checkout completes.
type PlaceOrderRequest struct {
	UserID   string          `json:"user_id"`
	Address  string          `json:"address"`
	Items    []OrderLineItem `json:"items"`
	Total    int64           `json:"total"`
	CouponID string          `json:"coupon_id,omitempty"`
	NoteRef  string          `json:"note_ref,omitempty"`
}
