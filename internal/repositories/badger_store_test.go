package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(path, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	return store
}

func TestBadgerCreateChatIsIdempotent(t *testing.T) {
	store := openTestStore(t, "")
	defer store.Close()
	ctx := context.Background()

	first, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)
	again, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)
	swapped, err := store.CreateChat(ctx, "J1", "U2", "U1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ID, swapped.ID)
	assert.Equal(t, "J1", first.JobID)

	found, err := store.FindChatByJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestBadgerCreateChatRejects(t *testing.T) {
	store := openTestStore(t, "")
	defer store.Close()
	ctx := context.Background()

	_, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)

	_, err = store.CreateChat(ctx, "J1", "U1", "U3")
	assert.ErrorIs(t, err, ErrParticipantMismatch)

	_, err = store.CreateChat(ctx, "J2", "U1", "U1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.CreateChat(ctx, "", "U1", "U2")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.FindChatByJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = store.GetChat(ctx, 999)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestBadgerAppendMessageErrors(t *testing.T) {
	store := openTestStore(t, "")
	defer store.Close()
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, chat.ID, "U1", "U2", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.AppendMessage(ctx, 999, "U1", "U2", "hello")
	assert.ErrorIs(t, err, ErrChatNotFound)

	// Content is checked before the chat, matching the Postgres store.
	_, err = store.AppendMessage(ctx, 999, "U1", "U2", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.AppendMessage(ctx, chat.ID, "U3", "U2", "hello")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = store.AppendMessage(ctx, chat.ID, "U1", "U1", "hello")
	assert.ErrorIs(t, err, ErrNotParticipant)

	msgs, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	_, err = store.ListMessages(ctx, 999)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestBadgerAppendMessageAssignsIncreasingIDs(t *testing.T) {
	store := openTestStore(t, "")
	defer store.Close()
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)

	hello, err := store.AppendMessage(ctx, chat.ID, "U1", "U2", "hello")
	require.NoError(t, err)
	hi, err := store.AppendMessage(ctx, chat.ID, "U2", "U1", "hi")
	require.NoError(t, err)

	assert.Equal(t, int64(1), hello.ID)
	assert.Equal(t, int64(2), hi.ID)
	assert.Equal(t, "U1", hello.SenderID)
	assert.Equal(t, "U2", hello.ReceiverID)

	msgs, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestBadgerConcurrentAppendsAreTotallyOrdered(t *testing.T) {
	store := openTestStore(t, "")
	defer store.Close()
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)
	other, err := store.CreateChat(ctx, "J2", "U1", "U3")
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, chat.ID, "U1", "U2", fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, other.ID, "U3", "U1", fmt.Sprintf("o%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, writers)
	seen := map[int64]bool{}
	for i, msg := range msgs {
		assert.False(t, seen[msg.ID], "duplicate id %d", msg.ID)
		seen[msg.ID] = true
		assert.Equal(t, chat.ID, msg.ChatID)
		if i > 0 {
			assert.Greater(t, msg.ID, msgs[i-1].ID)
			assert.False(t, msg.SentAt.Before(msgs[i-1].SentAt))
		}
	}
}

func TestBadgerSentAtNeverGoesBackwards(t *testing.T) {
	store := openTestStore(t, "")
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(time.Minute), base}
	var mu sync.Mutex
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		next := clock[0]
		if len(clock) > 1 {
			clock = clock[1:]
		}
		return next
	}

	chat, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)
	first, err := store.AppendMessage(ctx, chat.ID, "U1", "U2", "first")
	require.NoError(t, err)
	second, err := store.AppendMessage(ctx, chat.ID, "U2", "U1", "second")
	require.NoError(t, err)

	assert.True(t, first.SentAt.Equal(base.Add(time.Minute)))
	assert.True(t, second.SentAt.Equal(first.SentAt))
	assert.True(t, first.Before(second))
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := openTestStore(t, dir)
	chat, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)
	first, err := store.AppendMessage(ctx, chat.ID, "U1", "U2", "before restart")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store = openTestStore(t, dir)
	defer store.Close()

	again, err := store.CreateChat(ctx, "J1", "U1", "U2")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, again.ID)

	next, err := store.AppendMessage(ctx, chat.ID, "U2", "U1", "after restart")
	require.NoError(t, err)
	assert.Greater(t, next.ID, first.ID)

	msgs, err := store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "before restart", msgs[0].Content)
	require.NoError(t, store.Ping(ctx))
}
