// Package sink delivers harvested records to the durable store.
package sink

import (
	"context"
	"errors"

	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
)

// DefaultChunkSize bounds the size of one bulk insert.
const DefaultChunkSize = 50

// ErrDuplicate is returned by a Store when a write hits the messages unique index.
var ErrDuplicate = errors.New("duplicate record")

// Store is the durable side of the sink.
type Store interface {
	// CopyMessages writes a chunk atomically and returns how many rows were written.
	// A uniqueness violation fails the whole chunk with ErrDuplicate.
	CopyMessages(ctx context.Context, records []models.MessageRecord) (int64, error)
	// InsertMessage writes one record, ignoring a duplicate. It reports whether a row was written.
	InsertMessage(ctx context.Context, record models.MessageRecord) (bool, error)
	InsertStats(ctx context.Context, stats []models.ChatStat) error
}

// Result counts the outcome of InsertMessages.
type Result struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// OK reports whether the batch counts as delivered: something was written or nothing failed.
func (r Result) OK() bool {
	return r.Errors == 0 || r.Inserted > 0
}

// Add accumulates another result.
func (r *Result) Add(o Result) {
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Errors += o.Errors
}

// Sink splits batches into chunks and falls back to row-by-row inserts on duplicates.
type Sink struct {
	store     Store
	chunkSize int
	log       *logger.Logger
}

// New creates a new sink.
func New(store Store, chunkSize int, log *logger.Logger) *Sink {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if log == nil {
		log = logger.Get()
	}
	return &Sink{store: store, chunkSize: chunkSize, log: log}
}

// InsertMessages writes records chunk by chunk. Duplicates are counted, never failed.
func (s *Sink) InsertMessages(ctx context.Context, records []models.MessageRecord) Result {
	var res Result

	for start := 0; start < len(records); start += s.chunkSize {
		end := min(start+s.chunkSize, len(records))
		chunk := records[start:end]

		n, err := s.store.CopyMessages(ctx, chunk)
		switch {
		case err == nil:
			res.Inserted += int(n)
			res.Duplicates += len(chunk) - int(n)
		case errors.Is(err, ErrDuplicate):
			res.Add(s.insertEach(ctx, chunk))
		default:
			s.log.Error().Err(err).Int("chunk_size", len(chunk)).Msg("sink: chunk insert failed")
			res.Errors += len(chunk)
		}
	}

	ev := s.log.Info()
	if res.Errors > 0 {
		ev = s.log.Warn()
	}
	ev.Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Int("errors", res.Errors).
		Int("total", len(records)).
		Msg("sink: messages delivered")

	return res
}

func (s *Sink) insertEach(ctx context.Context, chunk []models.MessageRecord) Result {
	var res Result
	for _, rec := range chunk {
		written, err := s.store.InsertMessage(ctx, rec)
		switch {
		case err == nil && written:
			res.Inserted++
		case err == nil, errors.Is(err, ErrDuplicate):
			res.Duplicates++
		default:
			s.log.Warn().Err(err).Int64("chat_id", rec.ChatID).Int("message_id", rec.MessageID).Msg("sink: row insert failed")
			res.Errors++
		}
	}
	return res
}

// InsertStats writes the chat stats of a cycle and reports success.
func (s *Sink) InsertStats(ctx context.Context, stats []models.ChatStat) bool {
	if len(stats) == 0 {
		return true
	}
	if err := s.store.InsertStats(ctx, stats); err != nil {
		s.log.Error().Err(err).Int("stats", len(stats)).Msg("sink: failed to write parsing logs")
		return false
	}
	return true
}
