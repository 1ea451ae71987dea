package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-chat-service/internal/models"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifierWritesEventKeyedByReceiver(t *testing.T) {
	w := &recordingWriter{}
	n := newKafkaNotifier(w, logs.GetLoggerFromLevel(slog.LevelDebug))
	sentAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	err := n.NotifyMessage(context.Background(), models.Message{
		ID: 12, ChatID: 4, SenderID: "U1", ReceiverID: "U2", Content: "hello", SentAt: sentAt,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	record := w.msgs[0]
	assert.Equal(t, "U2", string(record.Key))
	assert.Equal(t, []kafka.Header{{Key: "chat_id", Value: []byte("4")}}, record.Headers)

	var evt MessageEvent
	require.NoError(t, json.Unmarshal(record.Value, &evt))
	assert.Equal(t, int64(12), evt.MessageID)
	assert.Equal(t, "U1", evt.SenderID)
	assert.Equal(t, "U2", evt.ReceiverID)
	assert.Equal(t, "hello", evt.Text)
	assert.True(t, sentAt.Equal(evt.SentAt))

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifierReturnsWriteError(t *testing.T) {
	w := &recordingWriter{err: assert.AnError}
	n := newKafkaNotifier(w, logs.GetLoggerFromLevel(slog.LevelDebug))

	err := n.NotifyMessage(context.Background(), models.Message{ID: 1, ReceiverID: "U2"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewNotifierWithoutBrokersIsNoop(t *testing.T) {
	n := NewNotifier(nil, "chat.messages", logs.GetLoggerFromLevel(slog.LevelDebug))

	assert.NoError(t, n.NotifyMessage(context.Background(), models.Message{ID: 1}))
	assert.NoError(t, n.Close())
	_, isKafka := n.(*KafkaNotifier)
	assert.False(t, isKafka)
}

func TestNewNotifierWithBrokersUsesKafka(t *testing.T) {
	n := NewNotifier([]string{"localhost:9092"}, "chat.messages", logs.GetLoggerFromLevel(slog.LevelDebug))
	defer n.Close()

	_, isKafka := n.(*KafkaNotifier)
	assert.True(t, isKafka)
}
