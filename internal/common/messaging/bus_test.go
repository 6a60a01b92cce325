package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus[string]("test")
	sub := bus.Subscribe()

	bus.Publish("hello")

	select {
	case msg := <-sub:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("expected message was not delivered")
	}
}

func TestBus_PublishFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus[int]("test")
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(42)

	require.Equal(t, 42, <-a)
	require.Equal(t, 42, <-b)
}

func TestBus_PublishBeforeSubscribeIsNotDelivered(t *testing.T) {
	bus := NewBus[int]("test")
	bus.Publish(1)
	sub := bus.Subscribe()
	bus.Publish(2)

	assert.Equal(t, 2, <-sub)
}

func TestBus_FullChannelDropsWithoutBlocking(t *testing.T) {
	bus := NewBus[int]("test")
	sub := bus.Subscribe()

	for i := 0; i < channelBufferSize+10; i++ {
		bus.Publish(i)
	}

	assert.Equal(t, 0, <-sub, "the first buffered message should still be the first one published")
}
