package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestPublishDoesNotBlockOnSlowReader(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 1000; i++ {
		h.Publish(i)
	}
	for i := 0; i < 1000; i++ {
		assert.Equal(t, i, receive(t, ch))
	}
}

func TestSubscribeFromQueuesInitialFirst(t *testing.T) {
	h := NewHub[string]()
	ch, cancel := h.SubscribeFrom("current")
	defer cancel()
	h.Publish("next")

	assert.Equal(t, "current", receive(t, ch))
	assert.Equal(t, "next", receive(t, ch))
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestCloseEndsAllSubscribers(t *testing.T) {
	h := NewHub[int]()
	a, _ := h.Subscribe()
	b, _ := h.Subscribe()
	h.Close()

	_, ok := <-a
	assert.False(t, ok)
	_, ok = <-b
	assert.False(t, ok)

	c, _ := h.Subscribe()
	_, ok = <-c
	assert.False(t, ok)
}

func TestFinishDeliversQueuedValues(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.SubscribeFrom(0)
	defer cancel()
	h.Publish(1)
	h.Publish(2)
	h.Finish()
	h.Publish(3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, i, receive(t, ch))
	}
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFinishWithNothingPublishedStillSendsInitial(t *testing.T) {
	for i := 0; i < 100; i++ {
		h := NewHub[string]()
		ch, _ := h.SubscribeFrom("empty")
		h.Finish()

		assert.Equal(t, "empty", receive(t, ch))
		_, ok := <-ch
		require.False(t, ok)
	}
}

func TestCancelAfterFinishStopsAtOnce(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe()
	h.Publish(1)
	h.Publish(2)
	h.Finish()
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
