package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventCartChanged, UserID: "u1", Version: 3})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventCartChanged, ev.Type)
			assert.Equal(t, uint64(3), ev.Version)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event was not delivered")
		}
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call is a no-op

	_, open := <-sub
	require.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroker_PublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventOrdersUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}

func TestBroker_NilPublishIsNoop(t *testing.T) {
	var b *Broker
	assert.NotPanics(t, func() { b.Publish(&Event{Type: EventCartChanged}) })
}
