package sink

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
)

// memStore enforces the messages unique index in memory.
type memStore struct {
	rows       map[string]models.MessageRecord
	copyCalls  int
	rowCalls   int
	copyErr    error
	failRowsOf map[int]bool // message ids whose single insert fails
	stats      []models.ChatStat
	statsErr   error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.MessageRecord), failRowsOf: map[int]bool{}}
}

func (s *memStore) CopyMessages(_ context.Context, records []models.MessageRecord) (int64, error) {
	s.copyCalls++
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	for _, r := range records {
		if _, ok := s.rows[r.DedupKey()]; ok {
			return 0, fmt.Errorf("copy: %w", ErrDuplicate)
		}
	}
	for _, r := range records {
		s.rows[r.DedupKey()] = r
	}
	return int64(len(records)), nil
}

func (s *memStore) InsertMessage(_ context.Context, r models.MessageRecord) (bool, error) {
	s.rowCalls++
	if s.failRowsOf[r.MessageID] {
		return false, errors.New("connection reset")
	}
	if _, ok := s.rows[r.DedupKey()]; ok {
		return false, nil
	}
	s.rows[r.DedupKey()] = r
	return true, nil
}

func (s *memStore) InsertStats(_ context.Context, stats []models.ChatStat) error {
	if s.statsErr != nil {
		return s.statsErr
	}
	s.stats = append(s.stats, stats...)
	return nil
}

func records(n int) []models.MessageRecord {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	out := make([]models.MessageRecord, n)
	for i := range out {
		out[i] = models.MessageRecord{
			ChatID:      -100,
			MessageID:   i + 1,
			MessageTime: base.Add(time.Duration(i) * time.Second),
			ChatName:    "Chat",
			AuthorID:    1,
			FirstName:   "Ann",
			ProfileLink: "Chat #1",
			MessageText: fmt.Sprintf("message %d", i+1),
		}
	}
	return out
}

func TestSink_ChunkWithDuplicatesFallsBackToRows(t *testing.T) {
	store := newMemStore()
	batch := records(50)
	for _, r := range []models.MessageRecord{batch[3], batch[17], batch[42]} {
		store.rows[r.DedupKey()] = r
	}

	s := New(store, 50, logger.Nop())
	res := s.InsertMessages(context.Background(), batch)

	assert.Equal(t, Result{Inserted: 47, Duplicates: 3, Errors: 0}, res)
	assert.True(t, res.OK())
	assert.Equal(t, 1, store.copyCalls)
	assert.Equal(t, 50, store.rowCalls)
}

func TestSink_Idempotent(t *testing.T) {
	for _, sizes := range [][2]int{{50, 50}, {50, 7}, {3, 100}} {
		t.Run(fmt.Sprintf("chunks %d then %d", sizes[0], sizes[1]), func(t *testing.T) {
			store := newMemStore()
			batch := records(120)

			first := New(store, sizes[0], logger.Nop()).InsertMessages(context.Background(), batch)
			require.Equal(t, 120, first.Inserted)

			second := New(store, sizes[1], logger.Nop()).InsertMessages(context.Background(), batch)
			assert.Equal(t, 0, second.Inserted)
			assert.Equal(t, 120, second.Duplicates)
			assert.Equal(t, 0, second.Errors)
			assert.True(t, second.OK())
		})
	}
}

func TestSink_SplitsIntoChunks(t *testing.T) {
	store := newMemStore()
	res := New(store, 50, logger.Nop()).InsertMessages(context.Background(), records(101))

	assert.Equal(t, 101, res.Inserted)
	assert.Equal(t, 3, store.copyCalls)
	assert.Equal(t, 0, store.rowCalls)
}

func TestSink_HardErrors(t *testing.T) {
	t.Run("chunk failure counts every record", func(t *testing.T) {
		store := newMemStore()
		store.copyErr = errors.New("connection refused")

		res := New(store, 50, logger.Nop()).InsertMessages(context.Background(), records(60))
		assert.Equal(t, Result{Errors: 60}, res)
		assert.False(t, res.OK())
	})

	t.Run("partial row failures still succeed", func(t *testing.T) {
		store := newMemStore()
		batch := records(5)
		store.rows[batch[0].DedupKey()] = batch[0]
		store.failRowsOf[3] = true

		res := New(store, 50, logger.Nop()).InsertMessages(context.Background(), batch)
		assert.Equal(t, Result{Inserted: 3, Duplicates: 1, Errors: 1}, res)
		assert.True(t, res.OK())
	})
}

func TestSink_InsertStats(t *testing.T) {
	store := newMemStore()
	s := New(store, 0, logger.Nop())

	assert.True(t, s.InsertStats(context.Background(), nil))
	assert.True(t, s.InsertStats(context.Background(), []models.ChatStat{{ChatID: 1, Status: models.ChatSuccess}}))
	assert.Len(t, store.stats, 1)

	store.statsErr = errors.New("boom")
	assert.False(t, s.InsertStats(context.Background(), []models.ChatStat{{ChatID: 2}}))
}
