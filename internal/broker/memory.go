package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"job-chat-service/internal/models"
	"job-chat-service/internal/observability"
)

// MemoryBroker fans events out to subscribers inside this process.
type MemoryBroker struct {
	rooms  map[string]map[*Subscription]struct{}
	closed bool
	mu     sync.Mutex
	log    *slog.Logger
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker(log *slog.Logger) *MemoryBroker {
	return &MemoryBroker{
		rooms: make(map[string]map[*Subscription]struct{}),
		log:   log,
	}
}

// Subscribe registers a new subscription on channel.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	var sub *Subscription
	sub = newSubscription(channel, func() { b.remove(channel, sub) })
	if _, ok := b.rooms[channel]; !ok {
		b.rooms[channel] = make(map[*Subscription]struct{})
	}
	b.rooms[channel][sub] = struct{}{}
	observability.IncBrokerSubscribers()
	return sub, nil
}

// Publish hands the event to every current subscriber of channel. The lock is
// held for the whole fan-out so every subscriber sees the same order.
func (b *MemoryBroker) Publish(_ context.Context, channel, event string, msg models.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.rooms[channel]
	if len(subs) == 0 {
		b.log.Debug("no subscribers, event dropped", "channel", channel, "event", event, "message_id", msg.ID)
		return nil
	}
	evt := Event{Channel: channel, Name: event, Message: msg}
	for sub := range subs {
		sub.deliver(evt)
	}
	return nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[channel])
}

// Close cancels every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	var subs []*Subscription
	for _, room := range b.rooms {
		subs = append(subs, lo.Keys(room)...)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	return nil
}

func (b *MemoryBroker) remove(channel string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.rooms[channel]; ok {
		if _, exists := subs[sub]; !exists {
			return
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.rooms, channel)
		}
		observability.DecBrokerSubscribers()
	}
}
