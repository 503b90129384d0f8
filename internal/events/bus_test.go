package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(EventMediaEnriched, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventMediaEnriched, Data: map[string]interface{}{"media_id": "m1"}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "m1", got[0].Data["media_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_TypeScopedDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventScrapeSessionCompleted, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventMediaEnriched})
	bus.Publish(Event{Type: EventScrapeSessionCompleted})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDefaultBus_SetAndGet(t *testing.T) {
	assert.Nil(t, Default())

	bus := NewBus()
	defer bus.Close()
	SetDefault(bus)
	defer SetDefault(nil)

	assert.Equal(t, bus, Default())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	unsubscribe := bus.Subscribe(EventMediaEnriched, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventMediaEnriched})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	bus.Publish(Event{Type: EventMediaEnriched})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
