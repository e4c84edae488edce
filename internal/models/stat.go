package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatStatus is the outcome of harvesting one chat.
type ChatStatus string

// ChatStatus constants.
const (
	ChatSuccess ChatStatus = "success"
	ChatError   ChatStatus = "error"
	ChatSkipped ChatStatus = "skipped"
)

// Error kinds stored with failed or skipped chats.
const (
	ErrorKindRateLimited      = "rate_limited"
	ErrorKindNotAccessible    = "not_accessible"
	ErrorKindResolve          = "resolve_failed"
	ErrorKindTransportFailure = "transport_failure"
)

// ChatStat describes one chat attempted during a cycle.
type ChatStat struct {
	ParsingSessionID uuid.UUID  `json:"parsing_session_id" db:"parsing_session_id"`
	PhoneNumber      string     `json:"phone_number" db:"phone_number"`
	ChatID           int64      `json:"chat_id" db:"chat_id"`
	ChatName         string     `json:"chat_name" db:"chat_name"`
	MessagesFound    int        `json:"messages_found" db:"messages_found"`
	MessagesSaved    int        `json:"messages_saved" db:"messages_saved"`
	MessagesSkipped  int        `json:"messages_skipped" db:"messages_skipped"`
	Status           ChatStatus `json:"status" db:"status"`
	ErrorKind        *string    `json:"error_type,omitempty" db:"error_type"`
	ErrorDetail      *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	FinishedAt       time.Time  `json:"finished_at" db:"finished_at"`
}

// Fail marks the stat as failed with the given kind and detail.
func (s *ChatStat) Fail(status ChatStatus, kind, detail string) {
	s.Status = status
	s.ErrorKind = &kind
	s.ErrorDetail = &detail
}

// ParsingSessionSummary aggregates the chat stats of one cycle.
type ParsingSessionSummary struct {
	ParsingSessionID uuid.UUID `json:"parsing_session_id"`
	Chats            int       `json:"chats"`
	MessagesFound    int       `json:"messages_found"`
	MessagesSaved    int       `json:"messages_saved"`
	Errors           int       `json:"errors"`
	Skipped          int       `json:"skipped"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
