package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlacer struct {
	err error
	// errs, when set, is consumed one per call before err applies.
	errs []error
	keys []string
	reqs []domain.PlaceOrderRequest
}

func (m *mockPlacer) PlaceOrder(_ context.Context, key string, req domain.PlaceOrderRequest) (*domain.Order, error) {
	m.keys = append(m.keys, key)
	m.reqs = append(m.reqs, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Order{ID: "o1", UserID: req.UserID, Total: req.Total, Status: domain.OrderStatusProcessing, CouponID: req.CouponID}, nil
}

type mockCart struct {
	userID  string
	items   []domain.CartItem
	cleared bool
}

func (m *mockCart) UserID() string              { return m.userID }
func (m *mockCart) Summary() domain.CartSummary { return domain.Summarize(m.items) }
func (m *mockCart) Clear(context.Context) error {
	m.cleared = true
	m.items = nil
	return nil
}

type mockCoupons struct {
	applied    *domain.AppliedCoupon
	consumeErr error
	consumed   bool
}

func (m *mockCoupons) Applied() *domain.AppliedCoupon { return m.applied }

func (m *mockCoupons) ComputeDiscount(total int64) domain.Discount {
	if m.applied == nil {
		return domain.ComputeDiscount(total, nil)
	}
	return domain.ComputeDiscount(total, &m.applied.Coupon)
}

func (m *mockCoupons) Consume(context.Context) error {
	m.consumed = true
	if m.consumeErr != nil {
		return m.consumeErr
	}
	m.applied = nil
	return nil
}

type mockOrders struct {
	refreshed int
}

func (m *mockOrders) RefreshOrders(context.Context) ([]domain.Order, error) {
	m.refreshed++
	return nil, nil
}

func cartWithItems(userID string) *mockCart {
	return &mockCart{userID: userID, items: []domain.CartItem{
		{CartRowID: "r1", ProductID: "p1", Name: "Shirt", UnitPrice: 40000, Quantity: 2, Size: domain.SizeM},
		{CartRowID: "r2", ProductID: "p2", Name: "Hat", UnitPrice: 20000, Quantity: 1, Size: domain.SizeS},
	}}
}

func save20() *domain.AppliedCoupon {
	return &domain.AppliedCoupon{CouponID: "c1", Coupon: domain.Coupon{ID: "c1", Code: "SAVE20", PercentOff: 20, RemainingUses: 5}}
}

func TestComplete_Success(t *testing.T) {
	placer := &mockPlacer{}
	cart := cartWithItems("u1")
	coupons := &mockCoupons{applied: save20()}
	orders := &mockOrders{}
	sut := New(placer, cart, coupons, orders)

	res, err := sut.Complete(context.Background(), Request{Address: " 1 Main St ", NoteRef: "gift"})

	require.NoError(t, err)
	assert.Equal(t, "o1", res.Order.ID)
	assert.Equal(t, int64(100000), res.Discount.TotalPrice)
	assert.Equal(t, int64(20000), res.Discount.DiscountAmount)
	assert.Equal(t, int64(80000), res.Order.Total)
	assert.NotEmpty(t, res.IdempotencyKey)

	require.Len(t, placer.reqs, 1)
	req := placer.reqs[0]
	assert.Equal(t, "1 Main St", req.Address)
	assert.Equal(t, "c1", req.CouponID)
	assert.Equal(t, "gift", req.NoteRef)
	require.Len(t, req.Items, 2)
	assert.Equal(t, domain.OrderLineItem{ProductID: "p1", Name: "Shirt", Size: domain.SizeM, Quantity: 2, UnitPrice: 40000}, req.Items[0])

	assert.True(t, coupons.consumed)
	assert.True(t, cart.cleared)
	assert.Equal(t, 1, orders.refreshed)
}

func TestComplete_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		cart    *mockCart
		address string
		want    error
	}{
		{name: "guest", cart: cartWithItems(domain.GuestUserID), address: "x", want: domain.ErrNotAuthenticated},
		{name: "empty cart", cart: &mockCart{userID: "u1"}, address: "x", want: domain.ErrEmptyCart},
		{name: "no address", cart: cartWithItems("u1"), address: "  ", want: ErrAddressRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			placer := &mockPlacer{}
			sut := New(placer, tt.cart, &mockCoupons{}, &mockOrders{})

			_, err := sut.Complete(context.Background(), Request{Address: tt.address})

			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, placer.reqs)
		})
	}
}

func TestComplete_PlaceFailureKeepsCouponAndCart(t *testing.T) {
	placer := &mockPlacer{err: domain.ErrNetworkUnavailable}
	cart := cartWithItems("u1")
	coupons := &mockCoupons{applied: save20()}
	orders := &mockOrders{}
	sut := New(placer, cart, coupons, orders)

	_, err := sut.Complete(context.Background(), Request{Address: "1 Main St", IdempotencyKey: "k1"})

	require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
	var placeErr *PlaceOrderError
	require.ErrorAs(t, err, &placeErr)
	assert.Equal(t, "k1", placeErr.IdempotencyKey)
	assert.NotNil(t, coupons.applied)
	assert.False(t, coupons.consumed)
	assert.False(t, cart.cleared)
	assert.Equal(t, 0, orders.refreshed)
	assert.Equal(t, []string{"k1"}, placer.keys)
}

func TestComplete_RetryReusesFailedAttemptKey(t *testing.T) {
	placer := &mockPlacer{errs: []error{domain.ErrNetworkUnavailable}}
	cart := cartWithItems("u1")
	sut := New(placer, cart, &mockCoupons{}, &mockOrders{})

	_, err := sut.Complete(context.Background(), Request{Address: "1 Main St"})
	var placeErr *PlaceOrderError
	require.ErrorAs(t, err, &placeErr)
	require.NotEmpty(t, placeErr.IdempotencyKey)

	res, err := sut.Complete(context.Background(), Request{Address: "1 Main St"})

	require.NoError(t, err)
	require.Len(t, placer.keys, 2)
	assert.Equal(t, placer.keys[0], placer.keys[1])
	assert.Equal(t, placeErr.IdempotencyKey, res.IdempotencyKey)
}

func TestComplete_SurfacedKeyReusedAcrossInstances(t *testing.T) {
	placer := &mockPlacer{errs: []error{domain.ErrNetworkUnavailable}}

	_, err := New(placer, cartWithItems("u1"), &mockCoupons{}, &mockOrders{}).
		Complete(context.Background(), Request{Address: "1 Main St"})
	var placeErr *PlaceOrderError
	require.ErrorAs(t, err, &placeErr)

	_, err = New(placer, cartWithItems("u1"), &mockCoupons{}, &mockOrders{}).
		Complete(context.Background(), Request{Address: "1 Main St", IdempotencyKey: placeErr.IdempotencyKey})

	require.NoError(t, err)
	require.Len(t, placer.keys, 2)
	assert.Equal(t, placer.keys[0], placer.keys[1])
}

func TestComplete_ChangedOrderGetsNewKey(t *testing.T) {
	placer := &mockPlacer{errs: []error{domain.ErrNetworkUnavailable}}
	cart := cartWithItems("u1")
	sut := New(placer, cart, &mockCoupons{}, &mockOrders{})

	_, err := sut.Complete(context.Background(), Request{Address: "1 Main St"})
	require.Error(t, err)

	cart.items = cart.items[:1]
	_, err = sut.Complete(context.Background(), Request{Address: "1 Main St"})

	require.NoError(t, err)
	require.Len(t, placer.keys, 2)
	assert.NotEqual(t, placer.keys[0], placer.keys[1])
}

func TestComplete_PostOrderFailuresAreNotReported(t *testing.T) {
	placer := &mockPlacer{}
	cart := cartWithItems("u1")
	coupons := &mockCoupons{applied: save20(), consumeErr: errors.New("boom")}
	sut := New(placer, cart, coupons, &mockOrders{})

	res, err := sut.Complete(context.Background(), Request{Address: "1 Main St"})

	require.NoError(t, err)
	assert.Equal(t, "o1", res.Order.ID)
	assert.True(t, cart.cleared)
}

func TestComplete_NoCoupon(t *testing.T) {
	placer := &mockPlacer{}
	sut := New(placer, cartWithItems("u1"), &mockCoupons{}, &mockOrders{})

	res, err := sut.Complete(context.Background(), Request{Address: "1 Main St"})

	require.NoError(t, err)
	assert.Equal(t, int64(100000), res.Order.Total)
	assert.Empty(t, placer.reqs[0].CouponID)
}
