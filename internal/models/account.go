// Package models defines shared data types for the application.
package models

import (
	"strings"
	"time"
)

// ConnectionState is the authentication state of a managed account.
type ConnectionState string

// ConnectionState constants mirror the session lifecycle.
const (
	StateDisconnected  ConnectionState = "disconnected"
	StateCodeRequested ConnectionState = "code_requested"
	StateConnected     ConnectionState = "connected"
)

// IsValid reports whether s is a known state.
func (s ConnectionState) IsValid() bool {
	switch s {
	case StateDisconnected, StateCodeRequested, StateConnected:
		return true
	}
	return false
}

// Account is a Telegram account the harvester logs in as.
type Account struct {
	ID              int64           `json:"id" db:"id"`
	APIID           int             `json:"api_id" db:"api_id"`
	APIHash         string          `json:"-" db:"api_hash"`
	PhoneNumber     string          `json:"phone_number" db:"phone_number"`
	Name            string          `json:"name" db:"name"`
	ConnectionState ConnectionState `json:"connection_state" db:"connection_state"`
	SessionPath     string          `json:"session_path" db:"session_path"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// IsConnected reports whether the account can be harvested.
func (a *Account) IsConnected() bool {
	return a.ConnectionState == StateConnected
}

// SessionKey returns a filesystem-safe key derived from the phone number.
func (a *Account) SessionKey() string {
	return SessionKey(a.PhoneNumber)
}

// SessionKey keeps only the digits of a phone number.
func SessionKey(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SelectedChat is a chat an account harvests from.
type SelectedChat struct {
	AccountID int64  `json:"account_id" db:"account_id"`
	ChatID    int64  `json:"chat_id" db:"chat_id"`
	Title     string `json:"title" db:"title"`
}
