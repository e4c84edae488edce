package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/blockedby/tg-harvester/internal/models"
)

// ParsingLog is the gorm view of a parsing_logs row.
type ParsingLog struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	ParsingSessionID uuid.UUID `gorm:"type:uuid;index" json:"parsing_session_id"`
	PhoneNumber      string    `json:"phone_number"`
	ChatID           int64     `json:"chat_id"`
	ChatName         string    `json:"chat_name"`
	MessagesFound    int       `json:"messages_found"`
	MessagesSaved    int       `json:"messages_saved"`
	MessagesSkipped  int       `json:"messages_skipped"`
	Status           string    `json:"status"`
	ErrorType        *string   `json:"error_type,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName maps ParsingLog to parsing_logs.
func (ParsingLog) TableName() string { return "parsing_logs" }

// StatsFilter narrows ParsingStats. Zero fields are ignored.
type StatsFilter struct {
	ParsingSessionID *uuid.UUID
	PhoneNumber      string
	Status           models.ChatStatus
	Limit            int
}

const (
	defaultStatsLimit = 100
	maxStatsLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultStatsLimit
	}
	if limit > maxStatsLimit {
		return maxStatsLimit
	}
	return limit
}

// StatsRepository is the read side over parsing_logs.
type StatsRepository struct {
	db *gorm.DB
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// ParsingStats returns per-chat stats, newest first.
func (r *StatsRepository) ParsingStats(ctx context.Context, f StatsFilter) ([]ParsingLog, error) {
	q := r.db.WithContext(ctx).Model(&ParsingLog{})
	if f.ParsingSessionID != nil {
		q = q.Where("parsing_session_id = ?", *f.ParsingSessionID)
	}
	if f.PhoneNumber != "" {
		q = q.Where("phone_number = ?", f.PhoneNumber)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}

	var logs []ParsingLog
	if err := q.Order("started_at DESC").Order("id DESC").Limit(clampLimit(f.Limit)).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("query parsing stats: %w", err)
	}
	return logs, nil
}

// Errors returns the most recent failed or skipped chats.
func (r *StatsRepository) Errors(ctx context.Context, limit int) ([]ParsingLog, error) {
	var logs []ParsingLog
	err := r.db.WithContext(ctx).
		Where("status <> ?", string(models.ChatSuccess)).
		Order("started_at DESC").Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("query parsing errors: %w", err)
	}
	return logs, nil
}

// ParsingSessions aggregates parsing_logs per cycle, most recent first.
func (r *StatsRepository) ParsingSessions(ctx context.Context, limit int) ([]models.ParsingSessionSummary, error) {
	var rows []models.ParsingSessionSummary
	err := r.db.WithContext(ctx).
		Model(&ParsingLog{}).
		Select(`parsing_session_id,
			COUNT(*) AS chats,
			COALESCE(SUM(messages_found), 0) AS messages_found,
			COALESCE(SUM(messages_saved), 0) AS messages_saved,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS errors,
			SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END) AS skipped,
			MIN(started_at) AS started_at,
			MAX(finished_at) AS finished_at`).
		Group("parsing_session_id").
		Order("MIN(started_at) DESC").
		Limit(clampLimit(limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query parsing sessions: %w", err)
	}
	return rows, nil
}
