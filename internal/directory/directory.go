// Package directory maps jobs to their chat, creating the chat lazily.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"job-chat-service/internal/models"
	"job-chat-service/internal/repositories"
)

// Directory wraps the chat half of the message store.
type Directory struct {
	chats repositories.ChatRepository
	log   *slog.Logger
}

func New(chats repositories.ChatRepository, log *slog.Logger) *Directory {
	return &Directory{chats: chats, log: log}
}

// Resolve returns the chat for jobID as seen by actorID.
//
// peerID is the other party recorded on the job (hirer or freelancer). When the
// job has no chat yet and peerID is set, the chat is created between actorID
// and peerID. Without peerID only an existing chat can be returned.
func (d *Directory) Resolve(ctx context.Context, jobID, actorID, peerID string) (models.Chat, error) {
	if jobID == "" || actorID == "" {
		return models.Chat{}, fmt.Errorf("job and actor ids are required: %w", repositories.ErrInvalidInput)
	}

	chat, err := d.chats.FindChatByJob(ctx, jobID)
	switch {
	case err == nil:
		if !chat.HasParticipant(actorID) {
			return models.Chat{}, fmt.Errorf("user %s on job %s: %w", actorID, jobID, repositories.ErrNotParticipant)
		}
		if peerID != "" && chat.Peer(actorID) != peerID {
			return models.Chat{}, fmt.Errorf("job %s: %w", jobID, repositories.ErrParticipantMismatch)
		}
		return chat, nil
	case !errors.Is(err, repositories.ErrChatNotFound):
		return models.Chat{}, fmt.Errorf("find chat for job %s: %w", jobID, err)
	case peerID == "":
		return models.Chat{}, fmt.Errorf("job %s: %w", jobID, repositories.ErrChatNotFound)
	}

	chat, err = d.chats.CreateChat(ctx, jobID, actorID, peerID)
	if err != nil {
		return models.Chat{}, err
	}
	d.log.Info("chat resolved", "job_id", jobID, "chat_id", chat.ID)
	return chat, nil
}

// Lookup returns the existing chat for jobID.
func (d *Directory) Lookup(ctx context.Context, jobID string) (models.Chat, error) {
	return d.chats.FindChatByJob(ctx, jobID)
}
