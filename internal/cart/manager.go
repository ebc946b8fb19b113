// Package cart owns the in-memory cart for the signed-in user.
//
// The remote API is the source of truth: every successful mutation is followed by a
// full refresh, and the summary exposed to readers is always the last applied
// refresh result (or the persisted snapshot until the first refresh lands).
package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/inventory"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidSize     = errors.New("size must be S, M or L")
)

// Remote is the cart half of the commerce API.
type Remote interface {
	ListCart(ctx context.Context, userID string) ([]domain.CartItem, error)
	AddCartRow(ctx context.Context, userID string, item domain.CartItem) (domain.CartItem, error)
	PatchCartQuantity(ctx context.Context, cartRowID string, quantity int) error
	DeleteCartRow(ctx context.Context, cartRowID string) error
	DeleteAllCartRows(ctx context.Context, userID string) error
}

// InventoryChecker approves quantity increases before they are written.
type InventoryChecker interface {
	CheckQuantityChange(ctx context.Context, productID string, size domain.Size, requestedTotal int) (inventory.Decision, error)
}

type Manager struct {
	remote    Remote
	guard     InventoryChecker
	snapshots *store.Snapshots
	broker    *events.Broker
	log       zerolog.Logger
	sfg       singleflight.Group // coalesces concurrent refreshes of the same cart state

	// opMu serializes mutations and identity switches so an inventory check and
	// the write it guards run back to back.
	opMu sync.Mutex
	// persistMu keeps snapshot writes in apply order.
	persistMu sync.Mutex

	mu         sync.RWMutex
	userID     string
	scope      *store.Scope
	summary    domain.CartSummary
	version    uint64
	epoch      uint64 // identity generation
	mutations  uint64 // successful remote writes in this epoch
	nextSeq    uint64 // refresh start sequence
	appliedSeq uint64 // sequence of the refresh currently shown
}

func NewManager(remote Remote, guard InventoryChecker, snapshots *store.Snapshots, broker *events.Broker) *Manager {
	return &Manager{
		remote:    remote,
		guard:     guard,
		snapshots: snapshots,
		broker:    broker,
		log:       log.WithComponent("cart"),
		userID:    domain.GuestUserID,
		scope:     snapshots.Scope(domain.GuestUserID),
		summary:   domain.Summarize(nil),
	}
}

// Summary returns a copy of the current cart projection.
func (m *Manager) Summary() domain.CartSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.Summarize(m.summary.Items)
}

// Version increases every time the visible cart changes.
func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// SwitchUser re-scopes the cart to userID: in-memory state is dropped, the user's
// persisted snapshot (if any) becomes visible, then the cart is refreshed. A refresh
// failure is returned but leaves the restored snapshot in place.
func (m *Manager) SwitchUser(ctx context.Context, userID string) error {
	if userID == "" {
		userID = domain.GuestUserID
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	scope := m.snapshots.Scope(userID)
	items, restored := store.Load[[]domain.CartItem](ctx, scope, store.KeyCart)

	m.mu.Lock()
	m.epoch++
	m.userID = userID
	m.scope = scope
	m.mutations = 0
	m.summary = domain.Summarize(items)
	m.appliedSeq = m.nextSeq
	m.version++
	version := m.version
	m.mu.Unlock()

	m.log.Info().Str("user_id", userID).Bool("restored", restored).Int("items", len(items)).Msg("cart re-scoped")
	m.publish(userID, version)

	_, err := m.Refresh(ctx)
	return err
}

// Refresh pulls the cart from the remote API and makes it the visible state.
// Concurrent calls for the same cart state share one fetch. If a newer refresh has
// already been applied when this one completes, its result is discarded and the
// current summary is returned instead.
func (m *Manager) Refresh(ctx context.Context) (domain.CartSummary, error) {
	m.mu.RLock()
	userID, epoch, mutations := m.userID, m.epoch, m.mutations
	m.mu.RUnlock()

	key := userID + "#" + strconv.FormatUint(epoch, 10) + "#" + strconv.FormatUint(mutations, 10)
	_, err, _ := m.sfg.Do(key, func() (interface{}, error) {
		return nil, m.fetch(ctx, userID, epoch)
	})
	if err != nil {
		return domain.CartSummary{}, err
	}
	return m.Summary(), nil
}

func (m *Manager) fetch(ctx context.Context, userID string, epoch uint64) error {
	m.mu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	m.mu.Unlock()

	items, err := m.remote.ListCart(ctx, userID)
	if err != nil {
		metrics.CartRefreshes.WithLabelValues("failed").Inc()
		return fmt.Errorf("refresh cart: %w", err)
	}

	m.mu.Lock()
	if epoch != m.epoch || seq <= m.appliedSeq {
		m.mu.Unlock()
		metrics.CartRefreshes.WithLabelValues("stale").Inc()
		m.log.Debug().Uint64("seq", seq).Msg("discarding stale cart refresh")
		return nil
	}
	m.summary = domain.Summarize(items)
	m.appliedSeq = seq
	m.version++
	version, scope := m.version, m.scope
	m.mu.Unlock()

	metrics.CartRefreshes.WithLabelValues("applied").Inc()
	m.persist(ctx, scope, seq, items)
	m.publish(userID, version)
	return nil
}

func (m *Manager) persist(ctx context.Context, scope *store.Scope, seq uint64, items []domain.CartItem) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	current := m.appliedSeq == seq && m.scope == scope
	m.mu.RUnlock()
	if !current {
		return
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	_ = store.Save(ctx, scope, store.KeyCart, items)
}

func (m *Manager) publish(userID string, version uint64) {
	m.broker.Publish(&events.Event{Type: events.EventCartChanged, UserID: userID, Version: version})
}

// AddItem adds item.Quantity units of the product in item.Size. When the cart
// already holds that product and size, the existing row's quantity is raised.
// Stock is verified against the cart's resulting total before anything is written.
func (m *Manager) AddItem(ctx context.Context, item domain.CartItem) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if !item.Size.Valid() {
		return ErrInvalidSize
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	summary, userID := m.Summary(), m.UserID()
	existing := summary.QuantityOf(item.ProductID, item.Size)
	if err := m.ensureStock(ctx, item.ProductID, item.Size, existing+item.Quantity); err != nil {
		return err
	}

	var err error
	if row, ok := summary.FindProduct(item.ProductID, item.Size); ok {
		err = m.remote.PatchCartQuantity(ctx, row.CartRowID, row.Quantity+item.Quantity)
	} else {
		_, err = m.remote.AddCartRow(ctx, userID, item)
	}
	if err != nil {
		m.log.Warn().Err(err).Str("product_id", item.ProductID).Msg("add item failed")
		return fmt.Errorf("add item: %w", err)
	}

	m.afterMutation(ctx)
	return nil
}

// UpdateQuantity sets a row's quantity. Values below 1 remove the row. Only
// increases are checked against stock.
func (m *Manager) UpdateQuantity(ctx context.Context, cartRowID string, quantity int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if quantity < 1 {
		return m.removeItem(ctx, cartRowID)
	}

	summary := m.Summary()
	row, ok := summary.Find(cartRowID)
	if !ok {
		return errRowNotFound(cartRowID)
	}
	if quantity == row.Quantity {
		return nil
	}
	if quantity > row.Quantity {
		total := summary.QuantityOf(row.ProductID, row.Size) - row.Quantity + quantity
		if err := m.ensureStock(ctx, row.ProductID, row.Size, total); err != nil {
			return err
		}
	}

	if err := m.remote.PatchCartQuantity(ctx, cartRowID, quantity); err != nil {
		m.log.Warn().Err(err).Str("cart_row_id", cartRowID).Msg("update quantity failed")
		return fmt.Errorf("update quantity: %w", err)
	}

	m.afterMutation(ctx)
	return nil
}

func (m *Manager) RemoveItem(ctx context.Context, cartRowID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.removeItem(ctx, cartRowID)
}

func (m *Manager) removeItem(ctx context.Context, cartRowID string) error {
	if err := m.remote.DeleteCartRow(ctx, cartRowID); err != nil {
		m.log.Warn().Err(err).Str("cart_row_id", cartRowID).Msg("remove item failed")
		return fmt.Errorf("remove item: %w", err)
	}

	m.afterMutation(ctx)
	return nil
}

// Clear deletes every row of the current user's cart.
func (m *Manager) Clear(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.remote.DeleteAllCartRows(ctx, m.UserID()); err != nil {
		m.log.Warn().Err(err).Msg("clear cart failed")
		return fmt.Errorf("clear cart: %w", err)
	}

	m.afterMutation(ctx)
	return nil
}

func (m *Manager) ensureStock(ctx context.Context, productID string, size domain.Size, requestedTotal int) error {
	d, err := m.guard.CheckQuantityChange(ctx, productID, size, requestedTotal)
	if err != nil {
		return fmt.Errorf("verify stock: %w", err)
	}
	if !d.Approved {
		return &domain.InventoryExceededError{
			ProductID: productID,
			Size:      size,
			Requested: requestedTotal,
			Available: d.Available,
		}
	}
	return nil
}

// afterMutation refreshes unconditionally. The write already succeeded remotely, so
// a failed refresh is logged rather than reported; the next refresh converges.
func (m *Manager) afterMutation(ctx context.Context) {
	m.mu.Lock()
	m.mutations++
	m.mu.Unlock()

	if _, err := m.Refresh(ctx); err != nil {
		m.log.Warn().Err(err).Msg("cart mutated but refresh failed")
	}
}

// errRowNotFound wraps domain.ErrCartItemNotFound with the missing row id.
func errRowNotFound(cartRowID string) error {
	return fmt.Errorf("cart row %s: %w", cartRowID, domain.ErrCartItemNotFound)
}
