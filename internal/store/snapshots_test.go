package store

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_KeyFormat(t *testing.T) {
	s := NewSnapshots(NewMemoryBackend())
	assert.Equal(t, "cart:u123", s.Scope("u123").Key(KeyCart))
	assert.Equal(t, "cart:guest", s.Scope("").Key(KeyCart))
	assert.Equal(t, domain.GuestUserID, s.Scope("").UserID())
}

func TestSnapshots_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSnapshots(NewMemoryBackend())
	sc := s.Scope("u1")

	orig := int64(250000)
	items := []domain.CartItem{
		{CartRowID: "r1", ProductID: "p1", Name: "Linen shirt", UnitPrice: 200000, Quantity: 2, Size: domain.SizeM, OriginalPrice: &orig},
	}
	applied := domain.AppliedCoupon{CouponID: "c1", Coupon: domain.Coupon{ID: "c1", Code: "SALE20", PercentOff: 20, RemainingUses: 3}}

	require.NoError(t, Save(ctx, sc, KeyCart, items))
	require.NoError(t, Save(ctx, sc, KeyCoupon, applied))

	gotItems, ok := Load[[]domain.CartItem](ctx, sc, KeyCart)
	require.True(t, ok)
	assert.Equal(t, items, gotItems)

	gotCoupon, ok := Load[domain.AppliedCoupon](ctx, sc, KeyCoupon)
	require.True(t, ok)
	assert.Equal(t, applied, gotCoupon)

	// saving what was loaded is idempotent
	require.NoError(t, Save(ctx, sc, KeyCart, gotItems))
	again, ok := Load[[]domain.CartItem](ctx, sc, KeyCart)
	require.True(t, ok)
	assert.Equal(t, items, again)
}

func TestSnapshots_ScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewSnapshots(NewMemoryBackend())

	require.NoError(t, Save(ctx, s.Scope("alice"), KeyCoupon, domain.AppliedCoupon{CouponID: "c1"}))

	_, ok := Load[domain.AppliedCoupon](ctx, s.Scope("bob"), KeyCoupon)
	assert.False(t, ok)
	_, ok = Load[domain.AppliedCoupon](ctx, s.Scope(""), KeyCoupon)
	assert.False(t, ok)
}

func TestSnapshots_FailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewSnapshots(backend)
	sc := s.Scope("u1")
	require.NoError(t, Save(ctx, sc, KeyCart, []domain.CartItem{{CartRowID: "r1"}}))

	backend.FailWith = errors.New("disk full")

	_, ok := Load[[]domain.CartItem](ctx, sc, KeyCart)
	assert.False(t, ok, "read failure reads as absent")

	err := Save(ctx, sc, KeyCart, []domain.CartItem{})
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)

	err = sc.Remove(ctx, KeyCart)
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
}

func TestSnapshots_CorruptValueReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewSnapshots(backend)
	require.NoError(t, backend.Set(ctx, "cart:u1", []byte("{not json")))

	_, ok := Load[[]domain.CartItem](ctx, s.Scope("u1"), KeyCart)
	assert.False(t, ok)
}

func TestScope_SaveBatch(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	sc := NewSnapshots(backend).Scope("u1")

	first, err := Encode(sc, KeyNotifications, []string{"n1"})
	require.NoError(t, err)
	second, err := Encode(sc, KeyNotified, []string{"o|1|2"})
	require.NoError(t, err)
	require.NoError(t, sc.SaveBatch(ctx, first, second))

	got, ok := Load[[]string](ctx, sc, KeyNotified)
	require.True(t, ok)
	assert.Equal(t, []string{"o|1|2"}, got)
	assert.Equal(t, 2, backend.Keys())
}
