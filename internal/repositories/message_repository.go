package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"job-chat-service/internal/models"
)

// MessageRepository is the append-only message log of the store.
type MessageRepository interface {
	AppendMessage(ctx context.Context, chatID int64, senderID, receiverID, content string) (models.Message, error)
	ListMessages(ctx context.Context, chatID int64) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a message. The chat row is locked for the duration of the
// transaction so ids and timestamps within one chat are assigned in commit order.
func (r *MessageRepo) AppendMessage(ctx context.Context, chatID int64, senderID, receiverID, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, fmt.Errorf("empty content: %w", ErrInvalidInput)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var chat models.Chat
	err = tx.GetContext(ctx, &chat, `SELECT id, job_id, participant_a, participant_b, created_at FROM chats WHERE id=$1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrChatNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("lock chat: %w", err)
	}
	if err := validateMessageInput(chat, senderID, receiverID, content); err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender_id, receiver_id, content, sent_at)
        VALUES ($1, $2, $3, $4, GREATEST(clock_timestamp(), COALESCE((SELECT MAX(sent_at) FROM messages WHERE chat_id=$1), clock_timestamp())))
        RETURNING id, chat_id, sender_id, receiver_id, content, sent_at`, chatID, senderID, receiverID, content).
		Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.SentAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// ListMessages returns the chat's messages in send order.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID int64) ([]models.Message, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chats WHERE id=$1)`, chatID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrChatNotFound
	}

	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, chat_id, sender_id, receiver_id, content, sent_at
        FROM messages
        WHERE chat_id=$1
        ORDER BY sent_at ASC, id ASC`, chatID)
	return msgs, err
}
