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

// ChatRepository abstracts the chat half of the message store.
type ChatRepository interface {
	CreateChat(ctx context.Context, jobID, participantA, participantB string) (models.Chat, error)
	FindChatByJob(ctx context.Context, jobID string) (models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (models.Chat, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// CreateChat returns the chat for jobID, creating it when the job has none yet.
func (r *ChatRepo) CreateChat(ctx context.Context, jobID, participantA, participantB string) (models.Chat, error) {
	if err := validateChatInput(jobID, participantA, participantB); err != nil {
		return models.Chat{}, err
	}

	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `INSERT INTO chats (job_id, participant_a, participant_b) VALUES ($1, $2, $3)
        ON CONFLICT (job_id) DO NOTHING
        RETURNING id, job_id, participant_a, participant_b, created_at`, jobID, participantA, participantB)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	// Someone else created it first.
	chat, err = r.FindChatByJob(ctx, jobID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.HasPair(participantA, participantB) {
		return models.Chat{}, fmt.Errorf("job %s: %w", jobID, ErrParticipantMismatch)
	}
	return chat, nil
}

// FindChatByJob fetches the chat attached to a job.
func (r *ChatRepo) FindChatByJob(ctx context.Context, jobID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, job_id, participant_a, participant_b, created_at FROM chats WHERE job_id=$1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int64) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, job_id, participant_a, participant_b, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// Ping checks the database connection.
func (r *ChatRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func validateChatInput(jobID, participantA, participantB string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("empty job id: %w", ErrInvalidInput)
	}
	if participantA == "" || participantB == "" {
		return fmt.Errorf("empty participant id: %w", ErrInvalidInput)
	}
	if participantA == participantB {
		return fmt.Errorf("cannot create chat with self: %w", ErrInvalidInput)
	}
	return nil
}

func validateMessageInput(chat models.Chat, senderID, receiverID, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty content: %w", ErrInvalidInput)
	}
	if senderID == receiverID || !chat.HasPair(senderID, receiverID) {
		return fmt.Errorf("chat %d sender %s receiver %s: %w", chat.ID, senderID, receiverID, ErrNotParticipant)
	}
	return nil
}
