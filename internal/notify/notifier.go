// Package notify feeds the external notification service with new-message events.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"job-chat-service/internal/models"
	"job-chat-service/internal/observability"
)

// MessageEvent is the record consumed by the notification service.
type MessageEvent struct {
	MessageID  int64     `json:"message_id"`
	ChatID     int64     `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// NewMessageEvent builds the notification record for msg.
func NewMessageEvent(msg models.Message) MessageEvent {
	return MessageEvent{
		MessageID:  msg.ID,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Content,
		SentAt:     msg.SentAt,
	}
}

// Notifier hands message events to the notification pipeline. Implementations
// must not block the caller on delivery.
type Notifier interface {
	NotifyMessage(ctx context.Context, msg models.Message) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes events asynchronously, keyed by receiver so one user's
// notifications stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	log    *slog.Logger
}

// NewNotifier returns a Kafka notifier, or a noop one when brokers is empty.
func NewNotifier(brokers []string, topic string, log *slog.Logger) Notifier {
	if len(brokers) == 0 {
		log.Info("kafka disabled, notifications are not emitted")
		return noopNotifier{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				observability.IncNotificationError()
				log.Warn("kafka notification write failed", "count", len(messages), "error", err)
			}
		},
	}
	log.Info("kafka notifier ready", "topic", topic, "brokers", brokers)
	return newKafkaNotifier(w, log)
}

func newKafkaNotifier(w messageWriter, log *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, log: log}
}

func (n *KafkaNotifier) NotifyMessage(ctx context.Context, msg models.Message) error {
	body, err := json.Marshal(NewMessageEvent(msg))
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ReceiverID),
		Value: body,
		Time:  msg.SentAt,
		Headers: []kafka.Header{
			{Key: "chat_id", Value: []byte(strconv.FormatInt(msg.ChatID, 10))},
		},
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

type noopNotifier struct{}

func (noopNotifier) NotifyMessage(context.Context, models.Message) error { return nil }

func (noopNotifier) Close() error { return nil }
