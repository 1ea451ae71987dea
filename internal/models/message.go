package models

import "time"

// Message is one immutable chat utterance.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	ChatID     int64     `db:"chat_id" json:"chatId"`
	SenderID   string    `db:"sender_id" json:"senderId"`
	ReceiverID string    `db:"receiver_id" json:"receiverId"`
	Content    string    `db:"content" json:"content"`
	SentAt     time.Time `db:"sent_at" json:"sentAt"`
}

// Before orders messages by (sent timestamp, id).
func (m Message) Before(other Message) bool {
	if m.SentAt.Equal(other.SentAt) {
		return m.ID < other.ID
	}
	return m.SentAt.Before(other.SentAt)
}

const (
	EventHistory    = "history"
	EventNewMessage = "new-message"
)

// ChatEvent is written to websocket clients.
type ChatEvent struct {
	Type     string    `json:"type"`
	Message  *Message  `json:"message,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}
