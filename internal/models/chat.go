package models

import "time"

// Chat is the conversation attached to exactly one job. Participants never change.
type Chat struct {
	ID           int64     `db:"id" json:"id"`
	JobID        string    `db:"job_id" json:"jobId"`
	ParticipantA string    `db:"participant_a" json:"participantA"`
	ParticipantB string    `db:"participant_b" json:"participantB"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// HasParticipant reports whether userID is one of the two chat members.
func (c Chat) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// HasPair reports whether the chat is between exactly a and b, in either order.
func (c Chat) HasPair(a, b string) bool {
	return (c.ParticipantA == a && c.ParticipantB == b) || (c.ParticipantA == b && c.ParticipantB == a)
}

// Peer returns the other participant for userID.
func (c Chat) Peer(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}
