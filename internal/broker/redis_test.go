package broker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-chat-service/internal/models"
)

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBroker(rdb, logs.GetLoggerFromLevel(slog.LevelDebug)), mr
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	b, _ := newRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, ChannelName(1))
	require.NoError(t, err)
	defer sub.Cancel()

	sentAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		msg := models.Message{ID: int64(i), ChatID: 1, SenderID: "U1", ReceiverID: "U2", Content: "hello", SentAt: sentAt}
		require.NoError(t, b.Publish(ctx, ChannelName(1), models.EventNewMessage, msg))
	}

	events := receive(t, sub, 3)
	for i, evt := range events {
		assert.Equal(t, int64(i+1), evt.Message.ID)
		assert.Equal(t, models.EventNewMessage, evt.Name)
		assert.Equal(t, "U1", evt.Message.SenderID)
		assert.True(t, sentAt.Equal(evt.Message.SentAt))
	}
}

func TestRedisBrokerSkipsMalformedPayloads(t *testing.T) {
	b, mr := newRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, ChannelName(2))
	require.NoError(t, err)
	defer sub.Cancel()

	mr.Publish(ChannelName(2), "not json")
	require.NoError(t, b.Publish(ctx, ChannelName(2), models.EventNewMessage, models.Message{ID: 9, ChatID: 2}))

	events := receive(t, sub, 1)
	assert.Equal(t, int64(9), events[0].Message.ID)
}

func TestRedisBrokerCancelReleasesSubscription(t *testing.T) {
	b, _ := newRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, ChannelName(3))
	require.NoError(t, err)

	sub.Cancel()
	waitClosed(t, sub)
	require.NoError(t, b.Publish(ctx, ChannelName(3), models.EventNewMessage, models.Message{ID: 1, ChatID: 3}))

	require.NoError(t, b.Close())
	_, err = b.Subscribe(ctx, ChannelName(3))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisBrokerCloseRacingSubscribe(t *testing.T) {
	b, _ := newRedisBroker(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		subs []*Subscription
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			sub, err := b.Subscribe(ctx, ChannelName(id))
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
				return
			}
			mu.Lock()
			subs = append(subs, sub)
			mu.Unlock()
		}(int64(i))
	}
	require.NoError(t, b.Close())
	wg.Wait()

	// Whatever Subscribe handed out must not outlive the broker.
	for _, sub := range subs {
		waitClosed(t, sub)
	}
	_, err := b.Subscribe(ctx, ChannelName(99))
	assert.ErrorIs(t, err, ErrClosed)
}
