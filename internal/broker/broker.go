// Package broker relays newly stored chat messages to live subscribers.
//
// A broker owns no durable state. Events published while nobody is subscribed
// are dropped; clients rebuild their view from the message store.
package broker

import (
	"context"
	"errors"
	"strconv"

	"job-chat-service/internal/models"
)

// ErrClosed is returned by Subscribe after the broker has been closed.
var ErrClosed = errors.New("broker closed")

// Event is one delivery on a channel.
type Event struct {
	Channel string         `json:"channel"`
	Name    string         `json:"event"`
	Message models.Message `json:"message"`
}

// Broker publishes chat events and hands out cancellable subscriptions.
type Broker interface {
	// Publish enqueues the event for every current subscriber of channel and
	// returns without waiting for them.
	Publish(ctx context.Context, channel, event string, msg models.Message) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	Close() error
}

// ChannelName is the channel carrying a chat's events.
func ChannelName(chatID int64) string {
	return "chat-" + strconv.FormatInt(chatID, 10)
}
