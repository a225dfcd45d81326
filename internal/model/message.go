package model

import "time"

// MessageState tracks where a stored message came from.
type MessageState int

const (
	MessageIncoming MessageState = 10
	MessageOutgoing MessageState = 20
	MessageDevice   MessageState = 30
)

// Message is a stored chat message. Handshake messages are stored hidden.
type Message struct {
	ID        int64        `json:"id" db:"id"`
	ChatID    int64        `json:"chat_id" db:"chat_id"`
	FromID    int64        `json:"from_id" db:"from_id"`
	State     MessageState `json:"state" db:"state"`
	RFC724MID string       `json:"rfc724_mid" db:"rfc724_mid"`
	Text      string       `json:"text" db:"text"`
	Hidden    bool         `json:"hidden" db:"hidden"`
	Encrypted bool         `json:"encrypted" db:"encrypted"`
	Timestamp time.Time    `json:"timestamp" db:"timestamp"`
}
