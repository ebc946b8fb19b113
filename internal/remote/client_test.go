package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/fakeapi"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T, cfg remote.Config) (*remote.Client, *fakeapi.Server) {
	api := fakeapi.New()
	api.AddProduct(domain.Product{
		ID:    "p1",
		Name:  "Linen shirt",
		Price: 200000,
		Stock: map[domain.Size]int{domain.SizeM: 5},
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	cfg.HTTPClient = srv.Client()
	return remote.NewClient(cfg), api
}

func TestCartRoundTrip(t *testing.T) {
	client, api := setupClient(t, remote.Config{})
	ctx := context.Background()

	row, err := client.AddCartRow(ctx, "u1", domain.CartItem{ProductID: "p1", Quantity: 2, Size: domain.SizeM})
	require.NoError(t, err)
	assert.NotEmpty(t, row.CartRowID)
	assert.Equal(t, "Linen shirt", row.Name)
	assert.Equal(t, int64(200000), row.UnitPrice)

	require.NoError(t, client.PatchCartQuantity(ctx, row.CartRowID, 4))

	items, err := client.ListCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Quantity)

	require.NoError(t, client.DeleteCartRow(ctx, row.CartRowID))
	err = client.DeleteCartRow(ctx, row.CartRowID)
	require.ErrorIs(t, err, domain.ErrCartItemNotFound)

	_, err = client.AddCartRow(ctx, "u1", domain.CartItem{ProductID: "p1", Quantity: 1, Size: domain.SizeS})
	require.NoError(t, err)
	require.NoError(t, client.DeleteAllCartRows(ctx, "u1"))
	assert.Empty(t, api.CartRows("u1"))
}

func TestGetProduct(t *testing.T) {
	client, _ := setupClient(t, remote.Config{})

	p, err := client.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Available(domain.SizeM))
	assert.Equal(t, 0, p.Available(domain.SizeL))

	_, err = client.GetProduct(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.NotErrorIs(t, err, domain.ErrNetworkUnavailable)
}

func TestCheckCoupon(t *testing.T) {
	client, api := setupClient(t, remote.Config{})
	api.AddCoupon(domain.Coupon{ID: "c1", Code: "SALE20", PercentOff: 20, RemainingUses: 2})
	api.AddCoupon(domain.Coupon{ID: "c2", Code: "GONE", PercentOff: 10, RemainingUses: 0})
	ctx := context.Background()

	check, err := client.CheckCoupon(ctx, "SALE20", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CouponCheckOK, check.Status)
	require.NotNil(t, check.Coupon)
	assert.Equal(t, 20, check.Coupon.PercentOff)

	check, err = client.CheckCoupon(ctx, "GONE", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CouponCheckExhausted, check.Status)

	check, err = client.CheckCoupon(ctx, "NOPE", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CouponCheckNotFound, check.Status)

	require.NoError(t, client.ConsumeCoupon(ctx, "c1"))
	c, _ := api.Coupon("SALE20")
	assert.Equal(t, 1, c.RemainingUses)
}

func TestOrders(t *testing.T) {
	client, api := setupClient(t, remote.Config{})
	ctx := context.Background()
	api.SeedOrder(domain.Order{ID: "o1", UserID: "u1", Total: 100000, Status: domain.OrderStatusProcessing},
		domain.OrderLineItem{ProductID: "p1", Quantity: 1, UnitPrice: 100000, Size: domain.SizeM})
	api.SeedOrder(domain.Order{ID: "o2", UserID: "u1", Status: domain.OrderStatusShipping})

	orders, err := client.ListOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	items, err := client.ListOrderItems(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	err = client.CancelOrder(ctx, "o2")
	require.ErrorIs(t, err, domain.ErrOrderNotCancellable)

	require.NoError(t, client.CancelOrder(ctx, "o1"))
	o, err := client.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)

	_, err = client.GetOrder(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestPlaceOrder_Idempotent(t *testing.T) {
	client, _ := setupClient(t, remote.Config{})
	ctx := context.Background()
	req := domain.PlaceOrderRequest{
		UserID: "u1",
		Items:  []domain.OrderLineItem{{ProductID: "p1", Quantity: 1, UnitPrice: 200000}},
		Total:  200000,
	}

	first, err := client.PlaceOrder(ctx, "key-1", req)
	require.NoError(t, err)
	second, err := client.PlaceOrder(ctx, "key-1", req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.OrderStatusProcessing, first.Status)
}

func TestServerDown_IsNetworkUnavailable(t *testing.T) {
	client, api := setupClient(t, remote.Config{})
	api.SetDown(true)

	_, err := client.ListCart(context.Background(), "u1")
	require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
}

func TestUnreachableHost_IsNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := remote.NewClient(remote.Config{BaseURL: url, Timeout: time.Second})
	_, err := client.ListOrders(context.Background(), "u1")
	require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
}

func TestCircuitBreakerOpens(t *testing.T) {
	client, api := setupClient(t, remote.Config{BreakerFailures: 2, BreakerCooldown: time.Minute})
	ctx := context.Background()
	api.SetDown(true)

	for i := 0; i < 2; i++ {
		_, err := client.GetProduct(ctx, "p1")
		require.ErrorIs(t, err, domain.ErrNetworkUnavailable)
	}

	api.SetDown(false)
	calls := api.Calls("/products/{productID}")

	_, err := client.GetProduct(ctx, "p1")
	require.ErrorIs(t, err, domain.ErrNetworkUnavailable, "open breaker short-circuits")
	assert.Equal(t, calls, api.Calls("/products/{productID}"))
}

func TestBusinessErrorsDoNotTripBreaker(t *testing.T) {
	client, _ := setupClient(t, remote.Config{BreakerFailures: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.GetProduct(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrProductNotFound)
	}
	_, err := client.GetProduct(ctx, "p1")
	require.NoError(t, err)
}

func TestCancelledCallsDoNotTripBreaker(t *testing.T) {
	client, _ := setupClient(t, remote.Config{BreakerFailures: 1, BreakerCooldown: time.Minute})
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_, err := client.ListOrders(cancelled, "u1")
		require.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, domain.ErrNetworkUnavailable)
	}

	_, err := client.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
}
