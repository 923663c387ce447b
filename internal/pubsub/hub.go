// Package pubsub is the alerts broadcast channel: a best-effort, at-most-once
// fan-out to currently connected admin sessions. There is no backlog — a
// subscriber that connects after a publish never sees it. Push here is a
// latency optimization; clients still converge by polling.
package pubsub

import (
	"context"
	"sync"
)

// Event names on the alerts namespace.
const (
	EventAdminAlert  = "admin_alert"
	EventLogUpdate   = "log_update"
	EventStatUpdate  = "stat_update"
	EventLevelUpdate = "level_update"
)

// Event is one broadcast message. Change notifications carry no payload.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

const subscriberBuffer = 16

// Subscriber is one connected listener. Events arrive on C until the
// subscribe context ends or the hub drops the subscriber for not keeping up.
type Subscriber struct {
	C      chan Event
	cancel context.CancelFunc
	once   sync.Once
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscriber) Close() { s.once.Do(s.cancel) }

// Hub fans events out to all current subscribers. Publishes never block:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}

	// mirror, when set, forwards every local publish to a second transport
	// (the redis bridge). Events arriving from the mirror are injected via
	// broadcast and are not mirrored again.
	mirror func(Event)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a listener bound to ctx. The subscriber is removed
// when ctx is done or Close is called.
func (h *Hub) Subscribe(ctx context.Context) *Subscriber {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscriber{C: make(chan Event, subscriberBuffer), cancel: cancel}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.C)
	}()
	return sub
}

// Publish delivers evt to every current subscriber and mirrors it to the
// bridge if one is attached.
func (h *Hub) Publish(evt Event) {
	h.broadcast(evt)
	h.mu.RLock()
	mirror := h.mirror
	h.mu.RUnlock()
	if mirror != nil {
		mirror(evt)
	}
}

// broadcast delivers locally only. Used by Publish and by the redis bridge
// for events that originated on another instance.
func (h *Hub) broadcast(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.C <- evt:
		default:
			// slow consumer: drop rather than block the publisher
		}
	}
}

// SubscriberCount is used by metrics and tests.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) setMirror(fn func(Event)) {
	h.mu.Lock()
	h.mirror = fn
	h.mu.Unlock()
}
