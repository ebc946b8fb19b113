package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

func userPath(userID, suffix string) string {
	return "/users/" + url.PathEscape(userID) + suffix
}

func (c *Client) ListCart(ctx context.Context, userID string) ([]domain.CartItem, error) {
	var items []domain.CartItem
	err := c.do(ctx, request{op: "cart.list", method: http.MethodGet, path: userPath(userID, "/cart")}, &items)
	return items, err
}

func (c *Client) AddCartRow(ctx context.Context, userID string, item domain.CartItem) (domain.CartItem, error) {
	var created domain.CartItem
	err := c.do(ctx, request{
		op:       "cart.add",
		method:   http.MethodPost,
		path:     userPath(userID, "/cart"),
		body:     item,
		notFound: domain.ErrProductNotFound,
	}, &created)
	return created, err
}

type quantityPatch struct {
	Quantity int `json:"quantity"`
}

func (c *Client) PatchCartQuantity(ctx context.Context, cartRowID string, quantity int) error {
	return c.do(ctx, request{
		op:       "cart.patch",
		method:   http.MethodPatch,
		path:     "/cart/" + url.PathEscape(cartRowID),
		body:     quantityPatch{Quantity: quantity},
		notFound: domain.ErrCartItemNotFound,
	}, nil)
}

func (c *Client) DeleteCartRow(ctx context.Context, cartRowID string) error {
	return c.do(ctx, request{
		op:       "cart.delete",
		method:   http.MethodDelete,
		path:     "/cart/" + url.PathEscape(cartRowID),
		notFound: domain.ErrCartItemNotFound,
	}, nil)
}

func (c *Client) DeleteAllCartRows(ctx context.Context, userID string) error {
	return c.do(ctx, request{op: "cart.clear", method: http.MethodDelete, path: userPath(userID, "/cart")}, nil)
}

func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := c.do(ctx, request{
		op:       "product.get",
		method:   http.MethodGet,
		path:     "/products/" + url.PathEscape(productID),
		notFound: domain.ErrProductNotFound,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CheckCoupon(ctx context.Context, code, userID string) (*domain.CouponCheck, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("user_id", userID)

	var check domain.CouponCheck
	err := c.do(ctx, request{op: "coupon.check", method: http.MethodGet, path: "/coupons/check?" + q.Encode()}, &check)
	if err != nil {
		return nil, err
	}
	return &check, nil
}

func (c *Client) ConsumeCoupon(ctx context.Context, couponID string) error {
	return c.do(ctx, request{
		op:       "coupon.consume",
		method:   http.MethodPatch,
		path:     "/coupons/" + url.PathEscape(couponID) + "/consume",
		notFound: domain.ErrCouponNotFound,
	}, nil)
}

func (c *Client) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := c.do(ctx, request{op: "orders.list", method: http.MethodGet, path: userPath(userID, "/orders")}, &orders)
	return orders, err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	err := c.do(ctx, request{
		op:       "orders.get",
		method:   http.MethodGet,
		path:     "/orders/" + url.PathEscape(orderID),
		notFound: domain.ErrOrderNotFound,
	}, &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	var items []domain.OrderLineItem
	err := c.do(ctx, request{
		op:       "orders.items",
		method:   http.MethodGet,
		path:     "/orders/" + url.PathEscape(orderID) + "/items",
		notFound: domain.ErrOrderNotFound,
	}, &items)
	return items, err
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, request{
		op:       "orders.cancel",
		method:   http.MethodPatch,
		path:     "/orders/" + url.PathEscape(orderID) + "/cancel",
		notFound: domain.ErrOrderNotFound,
	}, nil)
}

// PlaceOrder creates an order. Retrying with the same idempotency key returns the
// order created by the first attempt.
func (c *Client) PlaceOrder(ctx context.Context, idempotencyKey string, req domain.PlaceOrderRequest) (*domain.Order, error) {
	var o domain.Order
	err := c.do(ctx, request{
		op:      "orders.place",
		method:  http.MethodPost,
		path:    userPath(req.UserID, "/orders"),
		body:    req,
		headers: map[string]string{"Idempotency-Key": idempotencyKey},
	}, &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
