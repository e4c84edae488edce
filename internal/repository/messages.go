package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/sink"
)

var messageColumns = []string{
	"parsing_session_id", "chat_id", "message_id", "message_time", "chat_name",
	"user_id", "author_kind", "first_name", "last_name", "username", "bio",
	"profile_link", "message",
}

// MessageFilter narrows RecentMessages.
type MessageFilter struct {
	ParsingSessionID *uuid.UUID
	Limit            int
}

// MessagesRepository is the postgres side of the sink.
type MessagesRepository struct {
	pool *pgxpool.Pool
}

// NewMessagesRepository creates a new messages repository
func NewMessagesRepository(pool *pgxpool.Pool) *MessagesRepository {
	return &MessagesRepository{pool: pool}
}

var _ sink.Store = (*MessagesRepository)(nil)

func messageRow(r models.MessageRecord) []any {
	kind := r.AuthorKind
	if kind == "" {
		kind = models.AuthorUser
	}
	return []any{
		r.ParsingSessionID, r.ChatID, r.MessageID, r.MessageTime, r.ChatName,
		r.AuthorID, string(kind), r.FirstName, r.LastName, r.Username, r.Bio,
		r.ProfileLink, r.MessageText,
	}
}

// CopyMessages writes the chunk with COPY. COPY is all-or-nothing, so a
// single duplicate rejects the chunk with sink.ErrDuplicate.
func (r *MessagesRepository) CopyMessages(ctx context.Context, records []models.MessageRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, messageRow(rec))
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"messages"}, messageColumns, pgx.CopyFromRows(rows))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, sink.ErrDuplicate
		}
		return 0, fmt.Errorf("copy messages: %w", err)
	}
	return n, nil
}

// InsertMessage writes one record and reports whether a row was created.
func (r *MessagesRepository) InsertMessage(ctx context.Context, rec models.MessageRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO messages (
			parsing_session_id, chat_id, message_id, message_time, chat_name,
			user_id, author_kind, first_name, last_name, username, bio,
			profile_link, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING
	`, messageRow(rec)...)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertStats appends one parsing_logs row per chat stat.
func (r *MessagesRepository) InsertStats(ctx context.Context, stats []models.ChatStat) error {
	if len(stats) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range stats {
		batch.Queue(`
			INSERT INTO parsing_logs (
				parsing_session_id, phone_number, chat_id, chat_name,
				messages_found, messages_saved, messages_skipped,
				status, error_type, error_message, started_at, finished_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, s.ParsingSessionID, s.PhoneNumber, s.ChatID, s.ChatName,
			s.MessagesFound, s.MessagesSaved, s.MessagesSkipped,
			string(s.Status), s.ErrorKind, s.ErrorDetail, s.StartedAt, s.FinishedAt)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert parsing logs: %w", err)
		}
		return nil
	})
}

// RecentMessages returns the newest harvested messages, optionally for one cycle.
func (r *MessagesRepository) RecentMessages(ctx context.Context, filter MessageFilter) ([]models.MessageRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT parsing_session_id, chat_id, message_id, message_time, chat_name,
			user_id, author_kind, first_name, last_name, username, bio,
			profile_link, message
		FROM messages`
	args := []any{}
	if filter.ParsingSessionID != nil {
		args = append(args, *filter.ParsingSessionID)
		query += fmt.Sprintf(" WHERE parsing_session_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY message_time DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.MessageRecord
	for rows.Next() {
		var m models.MessageRecord
		var kind string
		if err := rows.Scan(
			&m.ParsingSessionID, &m.ChatID, &m.MessageID, &m.MessageTime, &m.ChatName,
			&m.AuthorID, &kind, &m.FirstName, &m.LastName, &m.Username, &m.Bio,
			&m.ProfileLink, &m.MessageText,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.AuthorKind = models.AuthorKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}
