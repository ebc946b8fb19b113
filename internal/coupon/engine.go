// Package coupon holds the single applied coupon for the signed-in user.
package coupon

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/rs/zerolog"
)

// Remote is the coupon half of the commerce API.
type Remote interface {
	CheckCoupon(ctx context.Context, code, userID string) (*domain.CouponCheck, error)
	ConsumeCoupon(ctx context.Context, couponID string) error
}

// Engine enforces "at most one applied coupon". Applying only reserves intent
// locally; remote usage is recorded by Consume once an order is placed.
type Engine struct {
	remote    Remote
	snapshots *store.Snapshots
	broker    *events.Broker
	log       zerolog.Logger

	// opMu serializes apply, remove, consume and identity switches.
	opMu sync.Mutex

	mu      sync.RWMutex
	userID  string
	scope   *store.Scope
	applied *domain.AppliedCoupon
	version uint64
}

func NewEngine(remote Remote, snapshots *store.Snapshots, broker *events.Broker) *Engine {
	return &Engine{
		remote:    remote,
		snapshots: snapshots,
		broker:    broker,
		log:       log.WithComponent("coupon"),
		userID:    domain.GuestUserID,
		scope:     snapshots.Scope(domain.GuestUserID),
	}
}

// Applied returns a copy of the applied coupon, or nil.
func (e *Engine) Applied() *domain.AppliedCoupon {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.applied == nil {
		return nil
	}
	c := *e.applied
	return &c
}

func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// ComputeDiscount prices totalPrice against the currently applied coupon.
func (e *Engine) ComputeDiscount(totalPrice int64) domain.Discount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.applied == nil {
		return domain.ComputeDiscount(totalPrice, nil)
	}
	c := e.applied.Coupon
	return domain.ComputeDiscount(totalPrice, &c)
}

// ApplyCoupon validates code remotely for userID and makes it the applied coupon.
// userID must be the signed-in, non-guest user. An already applied coupon is never
// replaced; remove it first.
func (e *Engine) ApplyCoupon(ctx context.Context, code, userID string) (*domain.Coupon, error) {
	code = strings.TrimSpace(code)

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.RLock()
	current, applied := e.userID, e.applied
	e.mu.RUnlock()

	if userID == "" || userID == domain.GuestUserID || userID != current {
		return nil, e.rejected("not_authenticated", domain.ErrNotAuthenticated)
	}
	if applied != nil {
		return nil, e.rejected("already_applied", domain.ErrCouponAlreadyApplied)
	}
	if code == "" {
		return nil, e.rejected("not_found", domain.ErrCouponNotFound)
	}

	check, err := e.remote.CheckCoupon(ctx, code, userID)
	if err != nil {
		metrics.CouponApplyResults.WithLabelValues("error").Inc()
		e.log.Warn().Err(err).Str("code", code).Msg("coupon check failed")
		return nil, fmt.Errorf("check coupon: %w", err)
	}

	switch check.Status {
	case domain.CouponCheckOK:
	case domain.CouponCheckAlreadyUsed:
		return nil, e.rejected("already_used", domain.ErrCouponAlreadyUsed)
	case domain.CouponCheckExhausted:
		return nil, e.rejected("exhausted", domain.ErrCouponExhausted)
	default:
		return nil, e.rejected("not_found", domain.ErrCouponNotFound)
	}
	if check.Coupon == nil {
		return nil, e.rejected("not_found", domain.ErrCouponNotFound)
	}
	if check.Coupon.RemainingUses <= 0 {
		return nil, e.rejected("exhausted", domain.ErrCouponExhausted)
	}

	state := domain.AppliedCoupon{CouponID: check.Coupon.ID, Coupon: *check.Coupon}

	e.mu.Lock()
	e.applied = &state
	e.version++
	version, scope := e.version, e.scope
	e.mu.Unlock()

	_ = store.Save(ctx, scope, store.KeyCoupon, state)
	metrics.CouponApplyResults.WithLabelValues("applied").Inc()
	e.log.Info().Str("user_id", userID).Str("coupon_id", state.CouponID).Int("percent_off", state.Coupon.PercentOff).Msg("coupon applied")
	e.publish(events.EventCouponApplied, userID, version, state.CouponID)

	c := state.Coupon
	return &c, nil
}

// RemoveCoupon clears the applied coupon. Removing when nothing is applied is a no-op.
func (e *Engine) RemoveCoupon(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.clear(ctx)
	return nil
}

// Consume records one use of the applied coupon on the remote side and clears it
// locally. It runs after an order has been placed; the local state is cleared even
// when the remote call fails, because the placed order already references the coupon.
func (e *Engine) Consume(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	applied := e.Applied()
	if applied == nil {
		return nil
	}

	err := e.remote.ConsumeCoupon(ctx, applied.CouponID)
	if err != nil {
		e.log.Warn().Err(err).Str("coupon_id", applied.CouponID).Msg("coupon consume failed")
		err = fmt.Errorf("consume coupon %s: %w", applied.CouponID, err)
	}
	e.clear(ctx)
	return err
}

func (e *Engine) clear(ctx context.Context) {
	e.mu.Lock()
	if e.applied == nil {
		e.mu.Unlock()
		return
	}
	couponID := e.applied.CouponID
	e.applied = nil
	e.version++
	version, scope, userID := e.version, e.scope, e.userID
	e.mu.Unlock()

	_ = scope.Remove(ctx, store.KeyCoupon)
	e.publish(events.EventCouponRemoved, userID, version, couponID)
}

// SwitchUser drops the in-memory coupon and restores userID's persisted one.
func (e *Engine) SwitchUser(ctx context.Context, userID string) {
	if userID == "" {
		userID = domain.GuestUserID
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	scope := e.snapshots.Scope(userID)
	state, ok := store.Load[domain.AppliedCoupon](ctx, scope, store.KeyCoupon)

	e.mu.Lock()
	e.userID = userID
	e.scope = scope
	e.applied = nil
	if ok && state.CouponID != "" {
		e.applied = &state
	}
	e.version++
	version, restored := e.version, e.applied != nil
	e.mu.Unlock()

	typ := events.EventCouponRemoved
	if restored {
		typ = events.EventCouponApplied
	}
	e.publish(typ, userID, version, state.CouponID)
}

func (e *Engine) rejected(result string, err error) error {
	metrics.CouponApplyResults.WithLabelValues(result).Inc()
	e.log.Debug().Err(err).Msg("coupon rejected")
	return err
}

func (e *Engine) publish(typ events.EventType, userID string, version uint64, couponID string) {
	e.broker.Publish(&events.Event{
		Type:     typ,
		UserID:   userID,
		Version:  version,
		Metadata: map[string]string{"coupon_id": couponID},
	})
}
