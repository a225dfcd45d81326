package model

import "time"

// ChatType distinguishes one-to-one chats from groups.
type ChatType int

const (
	ChatTypeSingle        ChatType = 100
	ChatTypeGroup         ChatType = 120
	ChatTypeVerifiedGroup ChatType = 130
)

// Blocked describes whether messages of a chat are shown to the user.
type Blocked int

const (
	ChatNotBlocked      Blocked = 0
	ChatManuallyBlocked Blocked = 1
	// ChatDeaddropBlocked marks chats created implicitly, e.g. by an
	// incoming message of an unknown sender or a device notice.
	ChatDeaddropBlocked Blocked = 2
)

// Chat is a conversation with one contact or a group of contacts.
type Chat struct {
	ID        int64     `json:"id" db:"id"`
	Type      ChatType  `json:"type" db:"type"`
	Name      string    `json:"name" db:"name"`
	GrpID     string    `json:"grpid" db:"grpid"`
	Blocked   Blocked   `json:"blocked" db:"blocked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsVerified reports whether the chat is a verified group.
func (c Chat) IsVerified() bool {
	return c.Type == ChatTypeVerifiedGroup
}
