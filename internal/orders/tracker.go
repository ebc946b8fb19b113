// Package orders tracks the signed-in user's orders, polls them for status changes
// and turns each newly observed transition into a notification.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultListInterval   = 30 * time.Second
	DefaultDetailInterval = 15 * time.Second
)

// Remote is the orders half of the commerce API.
type Remote interface {
	ListOrders(ctx context.Context, userID string) ([]domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderLineItem, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Notifier announces a status transition observed for userID. It must tolerate
// seeing the same transition more than once, and must drop it once userID is no
// longer signed in.
type Notifier interface {
	NotifyTransition(ctx context.Context, userID string, order domain.Order, from, to domain.OrderStatus) (bool, error)
}

type Config struct {
	ListInterval   time.Duration
	DetailInterval time.Duration
}

type loopKind string

const (
	loopList   loopKind = "list"
	loopDetail loopKind = "detail"
)

type taskKey struct {
	kind loopKind
	id   string
}

type task struct {
	cancel context.CancelFunc
}

type Tracker struct {
	remote   Remote
	notifier Notifier
	broker   *events.Broker
	cfg      Config
	log      zerolog.Logger
	sfg      singleflight.Group

	listInFlight atomic.Bool

	mu             sync.RWMutex
	userID         string
	epoch          uint64
	orders         []domain.Order
	details        map[string]domain.OrderDetail
	known          map[string]domain.OrderStatus
	detailInFlight map[string]bool
	version        uint64

	tasksMu sync.Mutex
	tasks   map[taskKey]*task
	wg      sync.WaitGroup
}

func NewTracker(remote Remote, notifier Notifier, broker *events.Broker, cfg Config) *Tracker {
	if cfg.ListInterval <= 0 {
		cfg.ListInterval = DefaultListInterval
	}
	if cfg.DetailInterval <= 0 {
		cfg.DetailInterval = DefaultDetailInterval
	}
	return &Tracker{
		remote:         remote,
		notifier:       notifier,
		broker:         broker,
		cfg:            cfg,
		log:            log.WithComponent("orders"),
		userID:         domain.GuestUserID,
		details:        make(map[string]domain.OrderDetail),
		known:          make(map[string]domain.OrderStatus),
		detailInFlight: make(map[string]bool),
		tasks:          make(map[taskKey]*task),
	}
}

// Orders returns the last fetched order list.
func (t *Tracker) Orders() []domain.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Order(nil), t.orders...)
}

func (t *Tracker) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// RefreshOrders fetches every order of the signed-in user. Concurrent calls share
// one fetch.
func (t *Tracker) RefreshOrders(ctx context.Context) ([]domain.Order, error) {
	t.mu.RLock()
	userID, epoch := t.userID, t.epoch
	t.mu.RUnlock()
	if userID == domain.GuestUserID {
		return nil, domain.ErrNotAuthenticated
	}

	key := "list#" + userID + "#" + strconv.FormatUint(epoch, 10)
	v, err, _ := t.sfg.Do(key, func() (interface{}, error) {
		t.listInFlight.Store(true)
		defer t.listInFlight.Store(false)

		orders, err := t.remote.ListOrders(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		t.observe(ctx, epoch, orders...)

		t.mu.Lock()
		if epoch == t.epoch {
			t.orders = append([]domain.Order(nil), orders...)
			t.version++
		}
		version := t.version
		t.mu.Unlock()

		t.broker.Publish(&events.Event{Type: events.EventOrdersUpdated, UserID: userID, Version: version})
		return orders, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Order(nil), v.([]domain.Order)...), nil
}

// GetOrderDetail fetches one order with its line items.
func (t *Tracker) GetOrderDetail(ctx context.Context, orderID string) (domain.OrderDetail, error) {
	t.mu.RLock()
	userID, epoch := t.userID, t.epoch
	t.mu.RUnlock()

	key := "detail#" + orderID + "#" + strconv.FormatUint(epoch, 10)
	v, err, _ := t.sfg.Do(key, func() (interface{}, error) {
		t.setDetailInFlight(orderID, true)
		defer t.setDetailInFlight(orderID, false)

		order, err := t.remote.GetOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("get order %s: %w", orderID, err)
		}
		items, err := t.remote.ListOrderItems(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("list items of order %s: %w", orderID, err)
		}
		detail := domain.OrderDetail{Order: *order, Items: items}
		t.observe(ctx, epoch, detail.Order)

		t.mu.Lock()
		if epoch == t.epoch {
			t.details[orderID] = detail
			t.version++
		}
		version := t.version
		t.mu.Unlock()

		t.broker.Publish(&events.Event{
			Type:     events.EventOrderUpdated,
			UserID:   userID,
			Version:  version,
			Metadata: map[string]string{"order_id": orderID},
		})
		return detail, nil
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}
	return v.(domain.OrderDetail), nil
}

// CancelOrder cancels an order that is still processing or confirmed and unpaid.
// The order is re-fetched first, so the decision uses the current remote state.
// A cancellation made here is not announced as a notification.
func (t *Tracker) CancelOrder(ctx context.Context, orderID string) error {
	detail, err := t.GetOrderDetail(ctx, orderID)
	if err != nil {
		return err
	}
	order := detail.Order
	if !order.Cancellable() {
		t.log.Debug().Str("order_id", orderID).Int("status", int(order.Status)).Bool("paid", order.Paid).
			Msg("cancel refused")
		return &domain.OrderNotCancellableError{OrderID: orderID, Status: order.Status, Paid: order.Paid}
	}

	if err := t.remote.CancelOrder(ctx, orderID); err != nil {
		if errors.Is(err, domain.ErrOrderNotCancellable) {
			// The remote state moved on between the fetch and the cancel.
			if fresh, ferr := t.GetOrderDetail(ctx, orderID); ferr == nil {
				order = fresh.Order
			}
			return &domain.OrderNotCancellableError{OrderID: orderID, Status: order.Status, Paid: order.Paid}
		}
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	t.mu.Lock()
	t.known[orderID] = domain.OrderStatusCancelled
	if d, ok := t.details[orderID]; ok {
		d.Order.Status = domain.OrderStatusCancelled
		t.details[orderID] = d
	}
	for i := range t.orders {
		if t.orders[i].ID == orderID {
			t.orders[i].Status = domain.OrderStatusCancelled
		}
	}
	t.version++
	userID, version := t.userID, t.version
	t.mu.Unlock()

	t.log.Info().Str("order_id", orderID).Msg("order cancelled")
	t.broker.Publish(&events.Event{
		Type:     events.EventOrderUpdated,
		UserID:   userID,
		Version:  version,
		Metadata: map[string]string{"order_id": orderID},
	})
	return nil
}

// observe compares fetched statuses with the last known ones. The first sighting of
// an order only records a baseline. A change the lifecycle does not allow (an
// out-of-order response carrying an older status) is ignored.
func (t *Tracker) observe(ctx context.Context, epoch uint64, orders ...domain.Order) {
	for _, o := range orders {
		t.mu.Lock()
		if epoch != t.epoch {
			t.mu.Unlock()
			return
		}
		userID := t.userID
		prev, seen := t.known[o.ID]
		notify := false
		switch {
		case !seen:
			t.known[o.ID] = o.Status
		case prev == o.Status:
		case !prev.CanTransitionTo(o.Status):
			t.log.Debug().Str("order_id", o.ID).Int("known", int(prev)).Int("fetched", int(o.Status)).
				Msg("ignoring stale order status")
		default:
			t.known[o.ID] = o.Status
			notify = true
		}
		tracked := len(t.known)
		t.mu.Unlock()
		metrics.TrackedOrders.Set(float64(tracked))

		if !notify {
			continue
		}
		if _, err := t.notifier.NotifyTransition(ctx, userID, o, prev, o.Status); err != nil {
			t.log.Warn().Err(err).Str("order_id", o.ID).Msg("notify transition failed")
		}
	}
}

func (t *Tracker) setDetailInFlight(orderID string, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v {
		t.detailInFlight[orderID] = true
	} else {
		delete(t.detailInFlight, orderID)
	}
}

func (t *Tracker) isDetailInFlight(orderID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.detailInFlight[orderID]
}

// StartListPolling refreshes the order list now and then every ListInterval until
// stopped. Starting an already running loop is a no-op.
func (t *Tracker) StartListPolling(ctx context.Context) {
	t.start(ctx, taskKey{kind: loopList}, t.cfg.ListInterval, func(ctx context.Context) {
		if t.listInFlight.Load() {
			metrics.PollsSkipped.WithLabelValues(string(loopList)).Inc()
			return
		}
		if _, err := t.RefreshOrders(ctx); err != nil && ctx.Err() == nil {
			t.log.Warn().Err(err).Msg("order list poll failed")
		}
	})
}

func (t *Tracker) StopListPolling() {
	t.stop(taskKey{kind: loopList})
}

// WatchOrder refreshes one order's detail now and then every DetailInterval until
// StopWatching is called for it.
func (t *Tracker) WatchOrder(ctx context.Context, orderID string) {
	t.start(ctx, taskKey{kind: loopDetail, id: orderID}, t.cfg.DetailInterval, func(ctx context.Context) {
		if t.isDetailInFlight(orderID) {
			metrics.PollsSkipped.WithLabelValues(string(loopDetail)).Inc()
			return
		}
		if _, err := t.GetOrderDetail(ctx, orderID); err != nil && ctx.Err() == nil {
			t.log.Warn().Err(err).Str("order_id", orderID).Msg("order detail poll failed")
		}
	})
}

func (t *Tracker) StopWatching(orderID string) {
	t.stop(taskKey{kind: loopDetail, id: orderID})
}

// Stop cancels every polling loop and waits for them to exit.
func (t *Tracker) Stop() {
	t.tasksMu.Lock()
	for key, tk := range t.tasks {
		tk.cancel()
		delete(t.tasks, key)
	}
	t.tasksMu.Unlock()
	t.wg.Wait()
}

// SwitchUser stops all polling and forgets everything known about the previous
// user's orders. Results of fetches still in flight are discarded.
func (t *Tracker) SwitchUser(userID string) {
	if userID == "" {
		userID = domain.GuestUserID
	}
	t.Stop()

	t.mu.Lock()
	t.epoch++
	t.userID = userID
	t.orders = nil
	t.details = make(map[string]domain.OrderDetail)
	t.known = make(map[string]domain.OrderStatus)
	t.version++
	version := t.version
	t.mu.Unlock()

	metrics.TrackedOrders.Set(0)
	t.broker.Publish(&events.Event{Type: events.EventOrdersUpdated, UserID: userID, Version: version})
}

// Polling reports whether the list loop (orderID == "") or the detail loop for
// orderID is running.
func (t *Tracker) Polling(orderID string) bool {
	key := taskKey{kind: loopList}
	if orderID != "" {
		key = taskKey{kind: loopDetail, id: orderID}
	}
	t.tasksMu.Lock()
	defer t.tasksMu.Unlock()
	_, ok := t.tasks[key]
	return ok
}

func (t *Tracker) start(parent context.Context, key taskKey, interval time.Duration, tick func(context.Context)) {
	t.tasksMu.Lock()
	defer t.tasksMu.Unlock()
	if _, running := t.tasks[key]; running {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	tk := &task{cancel: cancel}
	t.tasks[key] = tk
	t.wg.Add(1)
	t.log.Info().Str("loop", string(key.kind)).Str("order_id", key.id).Dur("interval", interval).Msg("polling started")

	go func() {
		defer t.wg.Done()
		defer t.forget(key, tk)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick(ctx)
		for {
			select {
			case <-ticker.C:
				tick(ctx)
			case <-ctx.Done():
				t.log.Info().Str("loop", string(key.kind)).Str("order_id", key.id).Msg("polling stopped")
				return
			}
		}
	}()
}

// forget drops key's entry when the loop exits on its own, e.g. when the parent
// context is cancelled.
func (t *Tracker) forget(key taskKey, tk *task) {
	t.tasksMu.Lock()
	defer t.tasksMu.Unlock()
	if t.tasks[key] == tk {
		delete(t.tasks, key)
	}
	tk.cancel()
}

func (t *Tracker) stop(key taskKey) {
	t.tasksMu.Lock()
	tk, ok := t.tasks[key]
	delete(t.tasks, key)
	t.tasksMu.Unlock()
	if ok {
		tk.cancel()
	}
}
