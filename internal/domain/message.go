package domain

import "time"

type MessageID string

// Message is one logical message of a room. While Draft is true the
// payload is a live typing preview and may be replaced; once stored
// with Draft=false it is final and must never regress to a draft.
type Message struct {
	ID        MessageID `json:"message_id"`
	RoomID    RoomID    `json:"room_id"`
	Sender    UserID    `json:"sender"`
	Payload   string    `json:"payload"`
	Draft     bool      `json:"draft"`
	Timestamp time.Time `json:"timestamp"`
}
