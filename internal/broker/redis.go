package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"job-chat-service/internal/models"
	"job-chat-service/internal/observability"
)

// RedisBroker relays events through Redis pub/sub so sessions on every
// instance receive messages posted on any instance.
type RedisBroker struct {
	rdb *redis.Client
	log *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

type wireEvent struct {
	Event   string         `json:"event"`
	Message models.Message `json:"message"`
}

// NewRedisBroker wraps an existing client. The caller keeps ownership of rdb.
func NewRedisBroker(rdb *redis.Client, log *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, log: log, subs: make(map[*Subscription]struct{})}
}

// Publish sends the event to the Redis channel.
func (b *RedisBroker) Publish(ctx context.Context, channel, event string, msg models.Message) error {
	body, err := json.Marshal(wireEvent{Event: event, Message: msg})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for channel and waits for
// Redis to confirm it before returning.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	var sub *Subscription
	sub = newSubscription(channel, func() {
		_ = ps.Close()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		observability.DecBrokerSubscribers()
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	observability.IncBrokerSubscribers()

	go b.forward(ps, sub)
	return sub, nil
}

func (b *RedisBroker) forward(ps *redis.PubSub, sub *Subscription) {
	for m := range ps.Channel() {
		var wire wireEvent
		if err := json.Unmarshal([]byte(m.Payload), &wire); err != nil {
			b.log.Warn("dropping malformed broker payload", "channel", m.Channel, "error", err)
			continue
		}
		sub.deliver(Event{Channel: m.Channel, Name: wire.Event, Message: wire.Message})
	}
}

// Close cancels every subscription. The Redis client is left open.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	return nil
}
