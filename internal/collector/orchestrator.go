package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/sink"
)

// AccountRegistry is the part of the account store a cycle reads.
type AccountRegistry interface {
	GetConnectedAccounts(ctx context.Context) ([]models.Account, error)
	GetSelectedChats(ctx context.Context, accountID int64) ([]int64, error)
}

// HarvestSession is an authenticated Source that must be closed after use.
type HarvestSession interface {
	Source
	Close() error
}

// SessionOpener opens the harvest session of an account.
type SessionOpener interface {
	Open(ctx context.Context, acc models.Account) (HarvestSession, error)
}

// OpenerFunc adapts a function to SessionOpener.
type OpenerFunc func(ctx context.Context, acc models.Account) (HarvestSession, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, acc models.Account) (HarvestSession, error) {
	return f(ctx, acc)
}

// Sink persists records and stats.
type Sink interface {
	InsertMessages(ctx context.Context, records []models.MessageRecord) sink.Result
	InsertStats(ctx context.Context, stats []models.ChatStat) bool
}

// EventPublisher receives cycle progress events.
type EventPublisher interface {
	PublishCycleEvent(ctx context.Context, event CycleEvent) error
}

// StopToken is polled by a running cycle. It is created per cycle.
type StopToken struct {
	stopped atomic.Bool
}

// NewStopToken creates a token that is not stopped.
func NewStopToken() *StopToken {
	return &StopToken{}
}

// Stop requests the cycle to end at its next checkpoint.
func (t *StopToken) Stop() {
	t.stopped.Store(true)
}

// Stopped reports whether a stop was requested. A nil token is never stopped.
func (t *StopToken) Stopped() bool {
	return t != nil && t.stopped.Load()
}

// Account outcomes of a cycle.
const (
	AccountHarvested = "harvested"
	AccountSkipped   = "skipped"
	AccountFailed    = "failed"
	AccountDiscarded = "discarded"
)

// AccountReport summarizes one account of a cycle.
type AccountReport struct {
	AccountID   int64  `json:"account_id"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
	Chats       int    `json:"chats"`
	Found       int    `json:"messages_found"`
	Inserted    int    `json:"messages_saved"`
	Duplicates  int    `json:"duplicates"`
	Errors      int    `json:"errors"`
	Error       string `json:"error,omitempty"`
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ParsingSessionID uuid.UUID       `json:"parsing_session_id"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Stopped          bool            `json:"stopped"`
	Error            string          `json:"error,omitempty"`
	Accounts         []AccountReport `json:"accounts"`
}

// Inserted returns the number of records written during the cycle.
func (r *CycleReport) Inserted() int {
	n := 0
	for _, a := range r.Accounts {
		n += a.Inserted
	}
	return n
}

// OrchestratorOptions holds options of every cycle.
type OrchestratorOptions struct {
	HoursBack   time.Duration
	TopicsLimit int
}

// Orchestrator runs harvest cycles across all connected accounts, one account at a time.
type Orchestrator struct {
	accounts  AccountRegistry
	opener    SessionOpener
	engine    *Engine
	sink      Sink
	publisher EventPublisher
	opts      OrchestratorOptions
	log       *logger.Logger
	now       func() time.Time
}

// NewOrchestrator creates a new orchestrator. publisher may be nil.
func NewOrchestrator(
	accounts AccountRegistry,
	opener SessionOpener,
	engine *Engine,
	sink Sink,
	publisher EventPublisher,
	opts OrchestratorOptions,
	log *logger.Logger,
) *Orchestrator {
	if log == nil {
		log = logger.Get()
	}
	return &Orchestrator{
		accounts:  accounts,
		opener:    opener,
		engine:    engine,
		sink:      sink,
		publisher: publisher,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// RunCycle harvests every connected account with selected chats. It never fails:
// sub-failures end up in the report. The token is checked before each account and
// again before an account's results are persisted.
func (o *Orchestrator) RunCycle(ctx context.Context, sessionID uuid.UUID, token *StopToken) *CycleReport {
	report := &CycleReport{ParsingSessionID: sessionID, StartedAt: o.now().UTC()}
	log := o.log.With().Str("parsing_session_id", sessionID.String()).Logger()

	log.Info().Msg("cycle started")
	o.publish(ctx, CycleEvent{Type: EventCycleStarted, ParsingSessionID: sessionID, At: report.StartedAt})

	defer func() {
		report.FinishedAt = o.now().UTC()
		log.Info().
			Int("accounts", len(report.Accounts)).
			Int("inserted", report.Inserted()).
			Bool("stopped", report.Stopped).
			Dur("took", report.FinishedAt.Sub(report.StartedAt)).
			Msg("cycle finished")
		o.publish(ctx, CycleEvent{Type: EventCycleFinished, ParsingSessionID: sessionID, At: report.FinishedAt, Cycle: report})
	}()

	accounts, err := o.accounts.GetConnectedAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list connected accounts")
		report.Error = err.Error()
		return report
	}

	for _, acc := range accounts {
		if token.Stopped() || ctx.Err() != nil {
			log.Info().Msg("stop requested, ending cycle before next account")
			report.Stopped = true
			return report
		}

		ar := o.runAccount(ctx, sessionID, acc, token)
		report.Accounts = append(report.Accounts, ar)
		o.publish(ctx, CycleEvent{Type: EventAccountFinished, ParsingSessionID: sessionID, At: o.now().UTC(), Account: &ar})

		if ar.Status == AccountDiscarded {
			report.Stopped = true
			return report
		}
	}
	return report
}

func (o *Orchestrator) runAccount(ctx context.Context, sessionID uuid.UUID, acc models.Account, token *StopToken) (ar AccountReport) {
	ar = AccountReport{AccountID: acc.ID, PhoneNumber: acc.PhoneNumber}
	log := o.log.With().Int64("account_id", acc.ID).Str("phone", acc.PhoneNumber).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("account harvest panicked")
			ar.Status = AccountFailed
			ar.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if !acc.IsConnected() {
		ar.Status = AccountSkipped
		return ar
	}

	chatIDs, err := o.accounts.GetSelectedChats(ctx, acc.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load selected chats")
		ar.Status, ar.Error = AccountFailed, err.Error()
		return ar
	}
	if len(chatIDs) == 0 {
		log.Info().Msg("no selected chats, skipping account")
		ar.Status = AccountSkipped
		return ar
	}

	sess, err := o.opener.Open(ctx, acc)
	if err != nil {
		log.Error().Err(err).Msg("failed to open session")
		ar.Status, ar.Error = AccountFailed, err.Error()
		return ar
	}

	result := func() *HarvestResult {
		defer func() {
			if err := sess.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close session")
			}
		}()
		return o.engine.Harvest(ctx, sess, chatIDs, HarvestOptions{
			HoursBack:        o.opts.HoursBack,
			TopicsLimit:      o.opts.TopicsLimit,
			ParsingSessionID: sessionID,
			PhoneNumber:      acc.PhoneNumber,
		})
	}()

	ar.Chats = len(result.Stats)
	ar.Found = len(result.Records)

	if token.Stopped() {
		log.Info().Int("records", len(result.Records)).Msg("stop requested, discarding unpersisted results")
		ar.Status = AccountDiscarded
		return ar
	}

	o.persist(ctx, result, &ar)
	ar.Status = AccountHarvested
	return ar
}

// persist writes records chat by chat so each stat carries the inserted count of its chat.
func (o *Orchestrator) persist(ctx context.Context, result *HarvestResult, ar *AccountReport) {
	byChat := make(map[int64][]models.MessageRecord)
	for _, rec := range result.Records {
		byChat[rec.ChatID] = append(byChat[rec.ChatID], rec)
	}

	for i := range result.Stats {
		stat := &result.Stats[i]
		records := byChat[stat.ChatID]
		if len(records) == 0 {
			continue
		}
		res := o.sink.InsertMessages(ctx, records)
		stat.MessagesSaved = res.Inserted
		ar.Inserted += res.Inserted
		ar.Duplicates += res.Duplicates
		ar.Errors += res.Errors
		delete(byChat, stat.ChatID)
	}

	if !o.sink.InsertStats(ctx, result.Stats) {
		ar.Error = "failed to write parsing logs"
	}
}

func (o *Orchestrator) publish(ctx context.Context, event CycleEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishCycleEvent(ctx, event); err != nil {
		o.log.Warn().Err(err).Str("event", event.Type).Msg("failed to publish cycle event")
	}
}
