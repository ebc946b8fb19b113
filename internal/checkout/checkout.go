// Package checkout turns the signed-in user's cart into a placed order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrAddressRequired = errors.New("shipping address is required")

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, idempotencyKey string, req domain.PlaceOrderRequest) (*domain.Order, error)
}

type Cart interface {
	UserID() string
	Summary() domain.CartSummary
	Clear(ctx context.Context) error
}

type Coupons interface {
	Applied() *domain.AppliedCoupon
	ComputeDiscount(totalPrice int64) domain.Discount
	Consume(ctx context.Context) error
}

type OrderRefresher interface {
	RefreshOrders(ctx context.Context) ([]domain.Order, error)
}

type Request struct {
	Address string
	NoteRef string
	// IdempotencyKey makes retries of the same checkout safe. Generated when empty.
	IdempotencyKey string
}

// PlaceOrderError reports a placement that failed. The order may still have been
// created remotely, so a retry must reuse IdempotencyKey.
type PlaceOrderError struct {
	IdempotencyKey string
	Err            error
}

func (e *PlaceOrderError) Error() string {
	return fmt.Sprintf("place order (idempotency key %s): %v", e.IdempotencyKey, e.Err)
}

func (e *PlaceOrderError) Unwrap() error {
	return e.Err
}

type Result struct {
	Order          domain.Order
	Discount       domain.Discount
	IdempotencyKey string
}

type Checkout struct {
	placer  OrderPlacer
	cart    Cart
	coupons Coupons
	orders  OrderRefresher
	log     zerolog.Logger

	// pending is the key of the last failed placement, reused while the same
	// order is retried.
	mu      sync.Mutex
	pending pendingAttempt
}

type pendingAttempt struct {
	key         string
	fingerprint string
}

func New(placer OrderPlacer, cart Cart, coupons Coupons, orders OrderRefresher) *Checkout {
	return &Checkout{
		placer:  placer,
		cart:    cart,
		coupons: coupons,
		orders:  orders,
		log:     log.WithComponent("checkout"),
	}
}

// Complete places an order for the current cart at its discounted price. Only once
// the order exists is the coupon consumed and the cart cleared; if placing fails
// both are left untouched and the returned *PlaceOrderError carries the key to retry
// with. A retry without a key reuses the failed attempt's key as long as the order
// it describes is unchanged.
func (c *Checkout) Complete(ctx context.Context, req Request) (*Result, error) {
	userID := c.cart.UserID()
	if userID == "" || userID == domain.GuestUserID {
		return nil, domain.ErrNotAuthenticated
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, ErrAddressRequired
	}

	summary := c.cart.Summary()
	if len(summary.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	logger := log.WithUserID(c.log, userID)

	discount := c.coupons.ComputeDiscount(summary.TotalPrice)
	placeReq := domain.PlaceOrderRequest{
		UserID:  userID,
		Address: address,
		Items:   make([]domain.OrderLineItem, 0, len(summary.Items)),
		Total:   discount.FinalPrice,
		NoteRef: req.NoteRef,
	}
	if applied := c.coupons.Applied(); applied != nil {
		placeReq.CouponID = applied.CouponID
	}
	for _, it := range summary.Items {
		placeReq.Items = append(placeReq.Items, domain.OrderLineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Size:      it.Size,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	fingerprint := fmt.Sprintf("%+v", placeReq)
	key := c.attemptKey(req.IdempotencyKey, fingerprint)

	order, err := c.placer.PlaceOrder(ctx, key, placeReq)
	if err != nil {
		logger.Warn().Err(err).Str("idempotency_key", key).Msg("place order failed")
		c.mu.Lock()
		c.pending = pendingAttempt{key: key, fingerprint: fingerprint}
		c.mu.Unlock()
		return nil, &PlaceOrderError{IdempotencyKey: key, Err: err}
	}
	c.mu.Lock()
	if c.pending.key == key {
		c.pending = pendingAttempt{}
	}
	c.mu.Unlock()
	logger.Info().Str("order_id", order.ID).Int64("total", order.Total).Msg("order placed")

	if err := c.coupons.Consume(ctx); err != nil {
		logger.Warn().Err(err).Str("order_id", order.ID).Msg("coupon consume after checkout failed")
	}
	if err := c.cart.Clear(ctx); err != nil {
		logger.Warn().Err(err).Str("order_id", order.ID).Msg("cart clear after checkout failed")
	}
	if _, err := c.orders.RefreshOrders(ctx); err != nil {
		logger.Warn().Err(err).Str("order_id", order.ID).Msg("orders refresh after checkout failed")
	}

	return &Result{Order: *order, Discount: discount, IdempotencyKey: key}, nil
}

func (c *Checkout) attemptKey(requested, fingerprint string) string {
	if requested != "" {
		return requested
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.key != "" && c.pending.fingerprint == fingerprint {
		return c.pending.key
	}
	return uuid.NewString()
}
