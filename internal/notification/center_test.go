package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend remembers the key order of every batch write.
type recordingBackend struct {
	*store.MemoryBackend
	m       sync.Mutex
	batches [][]string
}

func (b *recordingBackend) SetBatch(ctx context.Context, entries []store.Entry) error {
	b.m.Lock()
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	b.batches = append(b.batches, keys)
	b.m.Unlock()
	return b.MemoryBackend.SetBatch(ctx, entries)
}

type mockSink struct {
	m         sync.Mutex
	delivered []domain.Notification
	err       error
}

func (s *mockSink) Deliver(_ context.Context, _ string, n domain.Notification) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.delivered = append(s.delivered, n)
	return s.err
}

func newCenter(t *testing.T, backend store.Backend, userID string, opts ...Option) *Center {
	t.Helper()
	c := NewCenter(store.NewSnapshots(backend), nil, opts...)
	c.SwitchUser(context.Background(), userID)
	return c
}

var order1 = domain.Order{ID: "o1", UserID: "u1", Status: domain.OrderStatusConfirmed}

func TestNotifyTransition_OnlyOncePerKey(t *testing.T) {
	backend := store.NewMemoryBackend()
	sut := newCenter(t, backend, "u1")

	created, err := sut.NotifyTransition(context.Background(), "u1", order1, domain.OrderStatusProcessing, domain.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = sut.NotifyTransition(context.Background(), "u1", order1, domain.OrderStatusProcessing, domain.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.False(t, created)

	items := sut.List()
	require.Len(t, items, 1)
	assert.Equal(t, domain.NotificationOrderStatus, items[0].Type)
	assert.Equal(t, "o1", items[0].OrderID)
	assert.Contains(t, items[0].Message, "Processing")
	assert.Contains(t, items[0].Message, "Confirmed")
	assert.Equal(t, 1, sut.UnreadCount())
}

func TestNotifyTransition_DedupSurvivesRestart(t *testing.T) {
	backend := store.NewMemoryBackend()
	first := newCenter(t, backend, "u1")
	created, err := first.NotifyTransition(context.Background(), "u1", order1, 1, 2)
	require.NoError(t, err)
	require.True(t, created)

	restarted := newCenter(t, backend, "u1")
	created, err = restarted.NotifyTransition(context.Background(), "u1", order1, 1, 2)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, restarted.List(), 1)
}

func TestNotifyTransition_ConcurrentObserversCreateOne(t *testing.T) {
	sut := newCenter(t, store.NewMemoryBackend(), "u1")

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, _ := sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)
			results <- created
		}()
	}
	wg.Wait()
	close(results)

	var created int
	for r := range results {
		if r {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, sut.List(), 1)
}

func TestNotifyTransition_RejectsInvalidInput(t *testing.T) {
	sut := newCenter(t, store.NewMemoryBackend(), "u1")

	_, err := sut.NotifyTransition(context.Background(), "u1", domain.Order{}, 1, 2)
	require.Error(t, err)
	_, err = sut.NotifyTransition(context.Background(), "u1", order1, 2, 2)
	require.Error(t, err)
	assert.Empty(t, sut.List())
}

func TestNotifyTransition_WritesLogBeforeNotifiedSet(t *testing.T) {
	backend := &recordingBackend{MemoryBackend: store.NewMemoryBackend()}
	sut := newCenter(t, backend, "u1")

	_, err := sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)
	require.NoError(t, err)

	require.Len(t, backend.batches, 1)
	assert.Equal(t, []string{"notifications:u1", "notified_transitions:u1"}, backend.batches[0])
}

func TestNotifyTransition_PersistenceFailureKeepsDedup(t *testing.T) {
	backend := store.NewMemoryBackend()
	sut := newCenter(t, backend, "u1")
	backend.FailWith = errors.New("disk full")

	created, err := sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestClear_DoesNotResetDedup(t *testing.T) {
	sut := newCenter(t, store.NewMemoryBackend(), "u1")
	_, err := sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)
	require.NoError(t, err)

	sut.Clear(context.Background())
	assert.Empty(t, sut.List())

	created, err := sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, sut.NotifiedCount())
}

func TestNotifyTransition_DropsTransitionOfPreviousUser(t *testing.T) {
	backend := store.NewMemoryBackend()
	sut := newCenter(t, backend, "u1")
	sut.SwitchUser(context.Background(), "u2")

	created, err := sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, sut.List())
	assert.Equal(t, 0, sut.NotifiedCount())
	_, err = backend.Get(context.Background(), "notifications:u2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	sut.SwitchUser(context.Background(), "u1")
	assert.Empty(t, sut.List())
	created, err = sut.NotifyTransition(context.Background(), "u1", order1, 1, 2)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestLogIsBoundedNewestFirst(t *testing.T) {
	sut := newCenter(t, store.NewMemoryBackend(), "u1", WithLimit(5))

	for i := 0; i < 8; i++ {
		sut.Add(context.Background(), domain.NotificationPromotion, fmt.Sprintf("promo %d", i), "")
	}

	items := sut.List()
	require.Len(t, items, 5)
	assert.Equal(t, "promo 7", items[0].Title)
	assert.Equal(t, "promo 3", items[4].Title)
}

func TestNotifiedSetIsBounded(t *testing.T) {
	sut := newCenter(t, store.NewMemoryBackend(), "u1", WithLimit(3))

	for i := 0; i < 5; i++ {
		o := domain.Order{ID: fmt.Sprintf("o%d", i)}
		_, err := sut.NotifyTransition(context.Background(), "u1", o, 1, 2)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, sut.NotifiedCount())
}

func TestMarkReadAndDelete(t *testing.T) {
	sut := newCenter(t, store.NewMemoryBackend(), "u1")
	a := sut.Add(context.Background(), domain.NotificationSystem, "a", "")
	b := sut.Add(context.Background(), domain.NotificationSystem, "b", "")
	assert.Equal(t, 2, sut.UnreadCount())

	require.NoError(t, sut.MarkRead(context.Background(), a.ID))
	assert.Equal(t, 1, sut.UnreadCount())
	require.ErrorIs(t, sut.MarkRead(context.Background(), "missing"), ErrNotificationNotFound)

	sut.MarkAllRead(context.Background())
	assert.Equal(t, 0, sut.UnreadCount())

	require.NoError(t, sut.Delete(context.Background(), b.ID))
	items := sut.List()
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
	require.ErrorIs(t, sut.Delete(context.Background(), b.ID), ErrNotificationNotFound)
}

func TestSwitchUser_IsolatesAndRestores(t *testing.T) {
	backend := store.NewMemoryBackend()
	sut := newCenter(t, backend, "u1")
	n := sut.Add(context.Background(), domain.NotificationSystem, "welcome", "hi")
	require.NoError(t, sut.MarkRead(context.Background(), n.ID))

	sut.SwitchUser(context.Background(), "u2")
	assert.Empty(t, sut.List())

	sut.SwitchUser(context.Background(), "u1")
	items := sut.List()
	require.Len(t, items, 1)
	assert.Equal(t, n.ID, items[0].ID)
	assert.True(t, items[0].IsRead)
}

func TestSink_ReceivesNotificationsAndFailuresAreIgnored(t *testing.T) {
	sink := &mockSink{err: errors.New("broker down")}
	sut := newCenter(t, store.NewMemoryBackend(), "u1", WithSink(sink))

	created, err := sut.NotifyTransition(context.Background(), "u1", order1, 1, 3)
	require.NoError(t, err)
	assert.True(t, created)

	require.Len(t, sink.delivered, 1)
	assert.Equal(t, "o1", sink.delivered[0].OrderID)
	created, _ = sut.NotifyTransition(context.Background(), "u1", order1, 1, 3)
	assert.False(t, created)
	assert.Len(t, sink.delivered, 1)
}

func TestNotifyTransition_PublishesEvent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	sut := NewCenter(store.NewSnapshots(store.NewMemoryBackend()), broker)
	_, err := sut.NotifyTransition(context.Background(), domain.GuestUserID, order1, 1, 2)
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == events.EventNotificationCreated {
				assert.Equal(t, "o1", ev.Metadata["order_id"])
				return
			}
		case <-deadline:
			t.Fatal("no notification event published")
		}
	}
}
