package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOrFail(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case evt := <-sub.C:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)
	defer a.Close()
	defer b.Close()

	hub.Publish(Event{Name: EventLevelUpdate})

	assert.Equal(t, EventLevelUpdate, recvOrFail(t, a).Name)
	assert.Equal(t, EventLevelUpdate, recvOrFail(t, b).Name)
}

func TestHubNoBacklogForLateSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Publish(Event{Name: EventAdminAlert, Payload: map[string]any{"level": 90}})

	late := hub.Subscribe(context.Background())
	defer late.Close()

	select {
	case evt := <-late.C:
		t.Fatalf("late subscriber must not receive historical events, got %q", evt.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsOnFullBuffer(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(context.Background())
	defer sub.Close()

	// never drained: overflow past the buffer must not block the publisher
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(Event{Name: EventStatUpdate})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, sub.C, subscriberBuffer)
}

func TestHubUnsubscribeOnContextEnd(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx)
	require.Equal(t, 1, hub.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 },
		time.Second, 10*time.Millisecond)

	// channel is closed after detach
	_, open := <-sub.C
	assert.False(t, open)
}

func TestHubOrderPerSubscriber(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(context.Background())
	defer sub.Close()

	hub.Publish(Event{Name: EventLogUpdate})
	hub.Publish(Event{Name: EventStatUpdate})

	assert.Equal(t, EventLogUpdate, recvOrFail(t, sub).Name)
	assert.Equal(t, EventStatUpdate, recvOrFail(t, sub).Name)
}
