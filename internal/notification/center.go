// Package notification keeps the per-user notification log and guarantees that an
// order status transition is announced at most once, across restarts.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Sink receives every newly created notification, e.g. for push delivery.
type Sink interface {
	Deliver(ctx context.Context, userID string, n domain.Notification) error
}

type Option func(*Center)

func WithSink(sink Sink) Option {
	return func(c *Center) { c.sink = sink }
}

// WithLimit bounds the notification log and the notified-transition set.
func WithLimit(limit int) Option {
	return func(c *Center) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

type Center struct {
	snapshots *store.Snapshots
	broker    *events.Broker
	sink      Sink
	limit     int
	log       zerolog.Logger
	now       func() time.Time

	// mu also covers snapshot writes so they land in the order they were made.
	mu       sync.Mutex
	userID   string
	scope    *store.Scope
	items    []domain.Notification // newest first
	notified *TransitionSet
	version  uint64
}

func NewCenter(snapshots *store.Snapshots, broker *events.Broker, opts ...Option) *Center {
	c := &Center{
		snapshots: snapshots,
		broker:    broker,
		limit:     DefaultLimit,
		log:       log.WithComponent("notification"),
		now:       time.Now,
		userID:    domain.GuestUserID,
		scope:     snapshots.Scope(domain.GuestUserID),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.notified = NewTransitionSet(c.limit)
	return c
}

// NotifyTransition announces that order, observed for userID, moved from one
// status to another. It reports false without creating anything when the
// transition was announced before or userID is no longer the current user. The
// transition is marked before the notification is persisted, and a failed write
// never unmarks it.
func (c *Center) NotifyTransition(ctx context.Context, userID string, order domain.Order, from, to domain.OrderStatus) (bool, error) {
	if order.ID == "" {
		return false, errors.New("notify transition: order id is empty")
	}
	if from == to {
		return false, fmt.Errorf("notify transition: order %s status unchanged", order.ID)
	}
	if userID == "" {
		userID = domain.GuestUserID
	}
	key := domain.NewTransitionKey(order.ID, from, to)

	c.mu.Lock()
	if userID != c.userID {
		current := c.userID
		c.mu.Unlock()
		c.log.Debug().Str("key", string(key)).Str("observed_for", userID).Str("current", current).
			Msg("dropping transition observed for another user")
		return false, nil
	}
	if !c.notified.Add(key) {
		c.mu.Unlock()
		metrics.TransitionsSuppressed.Inc()
		c.log.Debug().Str("key", string(key)).Msg("transition already notified")
		return false, nil
	}

	n := domain.Notification{
		ID:        uuid.NewString(),
		Title:     "Order " + to.String(),
		Message:   fmt.Sprintf("Order %s changed from %s to %s.", order.ID, from, to),
		Type:      domain.NotificationOrderStatus,
		CreatedAt: c.now(),
		OrderID:   order.ID,
	}
	c.prependLocked(n)
	c.persistLocked(ctx, true)
	version := c.version
	c.mu.Unlock()

	c.emitted(ctx, userID, version, n)
	return true, nil
}

// Add creates a notification that is not tied to an order transition.
func (c *Center) Add(ctx context.Context, typ domain.NotificationType, title, message string) domain.Notification {
	n := domain.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Type:      typ,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.prependLocked(n)
	c.persistLocked(ctx, false)
	userID, version := c.userID, c.version
	c.mu.Unlock()

	c.emitted(ctx, userID, version, n)
	return n
}

// List returns the log, newest first.
func (c *Center) List() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Notification(nil), c.items...)
}

func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	unread := 0
	for _, n := range c.items {
		if !n.IsRead {
			unread++
		}
	}
	return unread
}

func (c *Center) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// NotifiedCount is the number of remembered transition keys.
func (c *Center) NotifiedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notified.Len()
}

func (c *Center) MarkRead(ctx context.Context, id string) error {
	return c.update(ctx, func() error {
		for i := range c.items {
			if c.items[i].ID == id {
				c.items[i].IsRead = true
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	})
}

func (c *Center) MarkAllRead(ctx context.Context) {
	_ = c.update(ctx, func() error {
		for i := range c.items {
			c.items[i].IsRead = true
		}
		return nil
	})
}

func (c *Center) Delete(ctx context.Context, id string) error {
	return c.update(ctx, func() error {
		for i := range c.items {
			if c.items[i].ID == id {
				c.items = append(c.items[:i], c.items[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	})
}

// Clear empties the log. Remembered transitions are kept, so clearing never
// causes an old transition to be announced again.
func (c *Center) Clear(ctx context.Context) {
	_ = c.update(ctx, func() error {
		c.items = nil
		return nil
	})
}

// SwitchUser replaces the in-memory log and transition set with userID's
// persisted ones.
func (c *Center) SwitchUser(ctx context.Context, userID string) {
	if userID == "" {
		userID = domain.GuestUserID
	}
	scope := c.snapshots.Scope(userID)
	items, _ := store.Load[[]domain.Notification](ctx, scope, store.KeyNotifications)
	keys, _ := store.Load[[]domain.TransitionKey](ctx, scope, store.KeyNotified)

	notified := NewTransitionSet(c.limit)
	for _, k := range keys {
		notified.Add(k)
	}
	if len(items) > c.limit {
		items = items[:c.limit]
	}

	c.mu.Lock()
	c.userID = userID
	c.scope = scope
	c.items = items
	c.notified = notified
	c.version++
	version := c.version
	c.mu.Unlock()

	c.log.Info().Str("user_id", userID).Int("notifications", len(items)).Int("notified", notified.Len()).
		Msg("notifications re-scoped")
	c.broker.Publish(&events.Event{Type: events.EventNotificationsChange, UserID: userID, Version: version})
}

func (c *Center) update(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	if err := fn(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.version++
	c.persistLocked(ctx, false)
	userID, version := c.userID, c.version
	c.mu.Unlock()

	c.broker.Publish(&events.Event{Type: events.EventNotificationsChange, UserID: userID, Version: version})
	return nil
}

func (c *Center) prependLocked(n domain.Notification) {
	items := make([]domain.Notification, 0, min(len(c.items)+1, c.limit))
	items = append(items, n)
	for _, existing := range c.items {
		if len(items) == c.limit {
			break
		}
		items = append(items, existing)
	}
	c.items = items
	c.version++
}

// persistLocked writes the log, followed by the transition set when withNotified
// is set. Failures are logged by the store and otherwise ignored.
func (c *Center) persistLocked(ctx context.Context, withNotified bool) {
	items := c.items
	if items == nil {
		items = []domain.Notification{}
	}
	logEntry, err := store.Encode(c.scope, store.KeyNotifications, items)
	if err != nil {
		return
	}
	if !withNotified {
		_ = c.scope.SaveBatch(ctx, logEntry)
		return
	}
	setEntry, err := store.Encode(c.scope, store.KeyNotified, c.notified)
	if err != nil {
		_ = c.scope.SaveBatch(ctx, logEntry)
		return
	}
	_ = c.scope.SaveBatch(ctx, logEntry, setEntry)
}

func (c *Center) emitted(ctx context.Context, userID string, version uint64, n domain.Notification) {
	metrics.NotificationsEmitted.WithLabelValues(string(n.Type)).Inc()
	c.log.Info().Str("user_id", userID).Str("notification_id", n.ID).Str("order_id", n.OrderID).
		Msg(n.Message)
	c.broker.Publish(&events.Event{
		Type:     events.EventNotificationCreated,
		UserID:   userID,
		Version:  version,
		Metadata: map[string]string{"notification_id": n.ID, "order_id": n.OrderID},
	})

	if c.sink == nil {
		return
	}
	if err := c.sink.Deliver(ctx, userID, n); err != nil {
		c.log.Warn().Err(err).Str("notification_id", n.ID).Msg("notification sink delivery failed")
	}
}
