package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-harvester/internal/models"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("copy: %w", &pgconn.PgError{Code: "23505"}), true},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"plain error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestMessageRow(t *testing.T) {
	sid := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	username := "alice"
	rec := models.MessageRecord{
		ParsingSessionID: sid,
		ChatID:           -1001234,
		MessageID:        42,
		MessageTime:      at,
		ChatName:         "jobs",
		AuthorID:         7,
		FirstName:        "Alice",
		Username:         &username,
		ProfileLink:      "https://t.me/alice",
		MessageText:      "hello",
	}

	row := messageRow(rec)
	require.Len(t, row, len(messageColumns))
	assert.Equal(t, sid, row[0])
	assert.Equal(t, 42, row[2])
	assert.Equal(t, "user", row[6], "empty author kind defaults to user")
	assert.Equal(t, &username, row[9])
	assert.Equal(t, "hello", row[12])

	rec.AuthorKind = models.AuthorChannel
	assert.Equal(t, "channel", messageRow(rec)[6])
}
