package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/blockedby/tg-harvester/internal/models"
)

func newStatsDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "stats.db")), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ParsingLog{}))
	return db
}

func strPtr(s string) *string { return &s }

func seedLogs(t *testing.T, db *gorm.DB) (uuid.UUID, uuid.UUID) {
	t.Helper()
	first, second := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	logs := []ParsingLog{
		{ParsingSessionID: first, PhoneNumber: "+100", ChatID: 1, ChatName: "alpha", MessagesFound: 5, MessagesSaved: 5, Status: "success", StartedAt: base, FinishedAt: base.Add(time.Minute)},
		{ParsingSessionID: first, PhoneNumber: "+100", ChatID: 2, ChatName: "beta", Status: "error", ErrorType: strPtr(models.ErrorKindTransportFailure), ErrorMessage: strPtr("boom"), StartedAt: base.Add(time.Minute), FinishedAt: base.Add(2 * time.Minute)},
		{ParsingSessionID: second, PhoneNumber: "+200", ChatID: 3, ChatName: "gamma", Status: "skipped", ErrorType: strPtr(models.ErrorKindNotAccessible), StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)},
		{ParsingSessionID: second, PhoneNumber: "+200", ChatID: 4, ChatName: "delta", MessagesFound: 2, MessagesSaved: 1, Status: "success", StartedAt: base.Add(time.Hour + time.Minute), FinishedAt: base.Add(time.Hour + 2*time.Minute)},
	}
	require.NoError(t, db.Create(&logs).Error)
	return first, second
}

func TestStatsRepository_ParsingStats(t *testing.T) {
	db := newStatsDB(t)
	first, _ := seedLogs(t, db)
	repo := NewStatsRepository(db)
	ctx := context.Background()

	t.Run("no filter returns newest first", func(t *testing.T) {
		logs, err := repo.ParsingStats(ctx, StatsFilter{})
		require.NoError(t, err)
		require.Len(t, logs, 4)
		assert.Equal(t, "delta", logs[0].ChatName)
		assert.Equal(t, "alpha", logs[3].ChatName)
	})

	t.Run("by session", func(t *testing.T) {
		logs, err := repo.ParsingStats(ctx, StatsFilter{ParsingSessionID: &first})
		require.NoError(t, err)
		require.Len(t, logs, 2)
		for _, l := range logs {
			assert.Equal(t, first, l.ParsingSessionID)
		}
	})

	t.Run("by phone and status", func(t *testing.T) {
		logs, err := repo.ParsingStats(ctx, StatsFilter{PhoneNumber: "+200", Status: models.ChatSuccess})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, int64(4), logs[0].ChatID)
	})

	t.Run("limit", func(t *testing.T) {
		logs, err := repo.ParsingStats(ctx, StatsFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})
}

func TestStatsRepository_Errors(t *testing.T) {
	db := newStatsDB(t)
	seedLogs(t, db)
	repo := NewStatsRepository(db)

	logs, err := repo.Errors(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "gamma", logs[0].ChatName)
	assert.Equal(t, "beta", logs[1].ChatName)
	require.NotNil(t, logs[1].ErrorType)
	assert.Equal(t, models.ErrorKindTransportFailure, *logs[1].ErrorType)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultStatsLimit, clampLimit(0))
	assert.Equal(t, defaultStatsLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxStatsLimit, clampLimit(maxStatsLimit+1))
}
