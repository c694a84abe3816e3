package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesHandlers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var mu sync.Mutex
	var got []Event
	seen := make(chan struct{}, 8)

	b.Notify(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		seen <- struct{}{}
	})

	b.Publish(Event{Type: EventTaskQueued, Message: "queued", Fields: map[string]string{"task_id": "t1"}})

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, EventTaskQueued, got[0].Type)
	assert.Equal(t, "t1", got[0].Fields["task_id"])
	assert.False(t, got[0].At.IsZero(), "At is stamped on publish")
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	defer b.Close()

	// A handler that never returns wedges delivery, not publication
	b.Notify(func(Event) { select {} })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < ringSize*4; i++ {
			b.Publish(Event{Type: EventTaskCompleted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled handler")
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: EventTaskFailed})
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewBus()

	delivered := make(chan struct{}, 1)
	b.Notify(func(Event) { delivered <- struct{}{} })

	b.Close()
	b.Close() // idempotent
	b.Publish(Event{Type: EventWorkerExited})

	select {
	case <-delivered:
		t.Fatal("event delivered after close")
	case <-time.After(100 * time.Millisecond):
	}
}
