package repositories

import "errors"

var (
	// ErrInvalidInput covers empty content, empty ids and self-chats.
	ErrInvalidInput = errors.New("invalid input")
	// ErrChatNotFound is returned for unknown chat or job ids.
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotParticipant is returned when a user is not one of the chat's two members.
	ErrNotParticipant = errors.New("not a chat participant")
	// ErrParticipantMismatch is returned when a job already has a chat with other members.
	ErrParticipantMismatch = errors.New("chat exists with different participants")
)
