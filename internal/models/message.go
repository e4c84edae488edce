package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthorKind tells whether a message was sent by a user or by a chat acting as sender.
type AuthorKind string

// AuthorKind constants.
const (
	AuthorUser    AuthorKind = "user"
	AuthorChannel AuthorKind = "channel"
)

// MessageRecord is one harvested message with author metadata.
type MessageRecord struct {
	ParsingSessionID uuid.UUID  `json:"parsing_session_id" db:"parsing_session_id"`
	ChatID           int64      `json:"chat_id" db:"chat_id"`
	MessageID        int        `json:"message_id" db:"message_id"`
	MessageTime      time.Time  `json:"message_time" db:"message_time"`
	ChatName         string     `json:"chat_name" db:"chat_name"`
	AuthorID         int64      `json:"author_id" db:"user_id"`
	AuthorKind       AuthorKind `json:"author_kind" db:"author_kind"`
	FirstName        string     `json:"first_name" db:"first_name"`
	LastName         *string    `json:"last_name,omitempty" db:"last_name"`
	Username         *string    `json:"username,omitempty" db:"username"`
	Bio              *string    `json:"bio,omitempty" db:"bio"`
	ProfileLink      string     `json:"profile_link" db:"profile_link"`
	MessageText      string     `json:"message" db:"message"`
}

// DedupKey mirrors the unique index of the messages table:
// md5 of the text, the username (empty when unset), chat_name and message_time.
func (r *MessageRecord) DedupKey() string {
	username := ""
	if r.Username != nil {
		username = *r.Username
	}
	return r.MessageText + "\x00" + username + "\x00" + r.ChatName + "\x00" + r.MessageTime.UTC().Format(time.RFC3339Nano)
}
