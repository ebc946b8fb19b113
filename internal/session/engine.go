// Package session wires the storefront components together and owns their
// lifecycle: one process-wide instance, re-scoped whenever the signed-in user
// changes.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/coupon"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/inventory"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/notification"
	"github.com/fjod/go_cart/storefront/internal/orders"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/rs/zerolog"
)

// API is everything the engine needs from the commerce API. *remote.Client
// satisfies it.
type API interface {
	cart.Remote
	coupon.Remote
	orders.Remote
	inventory.ProductSource
	checkout.OrderPlacer
}

// IdentityProvider reports the signed-in user. Changes delivers the new user id
// (empty for signed out) whenever it changes.
type IdentityProvider interface {
	CurrentUserID() string
	Changes() <-chan string
}

type Deps struct {
	API     API
	Backend store.Backend
	// Sink optionally receives every new notification.
	Sink              notification.Sink
	Orders            orders.Config
	NotificationLimit int
}

// Totals is the price breakdown shown next to the cart.
type Totals struct {
	Cart     domain.CartSummary
	Coupon   *domain.AppliedCoupon
	Discount domain.Discount
}

type Engine struct {
	Cart          *cart.Manager
	Coupons       *coupon.Engine
	Notifications *notification.Center
	Orders        *orders.Tracker
	Checkout      *checkout.Checkout

	broker  *events.Broker
	backend store.Backend
	log     zerolog.Logger

	switchMu sync.Mutex
	mu       sync.RWMutex
	userID   string
	started  bool

	watchCancel context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func New(deps Deps) *Engine {
	broker := events.NewBroker()
	broker.Start()
	snapshots := store.NewSnapshots(deps.Backend)

	var opts []notification.Option
	if deps.Sink != nil {
		opts = append(opts, notification.WithSink(deps.Sink))
	}
	if deps.NotificationLimit > 0 {
		opts = append(opts, notification.WithLimit(deps.NotificationLimit))
	}

	center := notification.NewCenter(snapshots, broker, opts...)
	cartManager := cart.NewManager(deps.API, inventory.NewGuard(deps.API), snapshots, broker)
	coupons := coupon.NewEngine(deps.API, snapshots, broker)
	tracker := orders.NewTracker(deps.API, center, broker, deps.Orders)

	return &Engine{
		Cart:          cartManager,
		Coupons:       coupons,
		Notifications: center,
		Orders:        tracker,
		Checkout:      checkout.New(deps.API, cartManager, coupons, tracker),
		broker:        broker,
		backend:       deps.Backend,
		log:           log.WithComponent("session"),
		userID:        domain.GuestUserID,
	}
}

// Events returns the broker every component publishes state changes to.
func (e *Engine) Events() *events.Broker {
	return e.broker
}

func (e *Engine) UserID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userID
}

// Start scopes the engine to identity's current user and follows its changes
// until Close.
func (e *Engine) Start(ctx context.Context, identity IdentityProvider) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("session already started")
	}
	e.started = true
	e.mu.Unlock()

	e.rescope(ctx, identity.CurrentUserID())

	watchCtx, cancel := context.WithCancel(ctx)
	e.watchCancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		changes := identity.Changes()
		for {
			select {
			case userID, ok := <-changes:
				if !ok {
					return
				}
				e.rescope(watchCtx, userID)
			case <-watchCtx.Done():
				return
			}
		}
	}()
	return nil
}

// SwitchUser re-scopes every component to userID. Polling loops of the previous
// user are stopped. Remote refresh failures are logged; the components keep
// showing the new user's persisted snapshots.
func (e *Engine) SwitchUser(ctx context.Context, userID string) {
	e.rescope(ctx, userID)
}

func (e *Engine) rescope(ctx context.Context, userID string) {
	if userID == "" {
		userID = domain.GuestUserID
	}

	e.switchMu.Lock()
	defer e.switchMu.Unlock()

	e.mu.Lock()
	previous := e.userID
	e.userID = userID
	e.mu.Unlock()

	e.Orders.SwitchUser(userID)
	e.Coupons.SwitchUser(ctx, userID)
	e.Notifications.SwitchUser(ctx, userID)
	if err := e.Cart.SwitchUser(ctx, userID); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("cart refresh after user switch failed")
	}

	e.log.Info().Str("from", previous).Str("to", userID).Msg("user switched")
	e.broker.Publish(&events.Event{
		Type:     events.EventUserSwitched,
		UserID:   userID,
		Metadata: map[string]string{"previous_user_id": previous},
	})
}

// Totals combines the current cart with the applied coupon. The discount is
// computed on every call, so it always reflects the latest cart total.
func (e *Engine) Totals() Totals {
	summary := e.Cart.Summary()
	return Totals{
		Cart:     summary,
		Coupon:   e.Coupons.Applied(),
		Discount: e.Coupons.ComputeDiscount(summary.TotalPrice),
	}
}

// Close stops polling and identity tracking and closes the snapshot backend.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.watchCancel != nil {
			e.watchCancel()
		}
		e.wg.Wait()
		e.Orders.Stop()
		e.broker.Stop()
		err = e.backend.Close()
	})
	return err
}

// StaticIdentity is an IdentityProvider whose user is set explicitly.
type StaticIdentity struct {
	mu      sync.Mutex
	userID  string
	changes chan string
}

func NewStaticIdentity(userID string) *StaticIdentity {
	return &StaticIdentity{userID: userID, changes: make(chan string, 1)}
}

func (s *StaticIdentity) CurrentUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *StaticIdentity) Changes() <-chan string {
	return s.changes
}

// Set changes the signed-in user; an empty id signs out. It never blocks: a change
// nobody has received yet is replaced by the newer one.
func (s *StaticIdentity) Set(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	for {
		select {
		case s.changes <- userID:
			return
		default:
		}
		select {
		case <-s.changes:
		default:
		}
	}
}
