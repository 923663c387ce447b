package pubsub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// envelope wraps an event with the publishing instance's id so a bridge can
// ignore its own messages coming back from redis.
type envelope struct {
	Origin string          `json:"origin"`
	Name   string          `json:"event"`
	Data   json.RawMessage `json:"payload,omitempty"`
}

// RedisBridge mirrors hub events over a redis channel so that admin sessions
// connected to other server instances see the same alerts. Redis is optional:
// local delivery never waits on it.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	origin  string
	cancel  context.CancelFunc
}

// NewRedisBridge attaches hub to the named redis channel and starts the
// re-broadcast loop. Callers should Close the bridge on shutdown.
func NewRedisBridge(ctx context.Context, hub *Hub, rdb *redis.Client, channel string) *RedisBridge {
	ctx, cancel := context.WithCancel(ctx)
	b := &RedisBridge{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		cancel:  cancel,
	}

	hub.setMirror(func(evt Event) {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return
		}
		env := envelope{Origin: b.origin, Name: evt.Name}
		if evt.Payload != nil {
			env.Data = data
		}
		msg, err := json.Marshal(env)
		if err != nil {
			return
		}
		if err := rdb.Publish(ctx, channel, msg).Err(); err != nil {
			log.Printf("[pubsub] redis publish failed: %v", err)
		}
	})

	go b.receive(ctx, hub)
	return b
}

func (b *RedisBridge) receive(ctx context.Context, hub *Hub) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[pubsub] bad bridge message: %v", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			evt := Event{Name: env.Name}
			if len(env.Data) > 0 {
				var payload any
				if err := json.Unmarshal(env.Data, &payload); err == nil {
					evt.Payload = payload
				}
			}
			hub.broadcast(evt)
		}
	}
}

func (b *RedisBridge) Close() { b.cancel() }
