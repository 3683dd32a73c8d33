package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: "swim.joined", Message: "member joined"})

	select {
	case ev := <-sub:
		assert.Equal(t, Type("swim.joined"), ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	a := b.Subscribe()
	c := b.Subscribe()
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: "limbo.confirmed"})

	for _, sub := range []Subscriber{a, c} {
		select {
		case ev := <-sub:
			assert.Equal(t, Type("limbo.confirmed"), ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	assert.NotPanics(t, func() { b.Stop() })
}
