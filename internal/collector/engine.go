package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/telegram"
)

const (
	defaultPageSize    = 100
	defaultTopicsLimit = 100
)

// Source reads chats of one authenticated account.
type Source interface {
	ResolveChat(ctx context.Context, chatID int64) (telegram.Chat, error)
	ListTopics(ctx context.Context, chat telegram.Chat, limit int) ([]telegram.Topic, error)
	// History returns one newest-first page of messages older than offsetID (0 = newest).
	History(ctx context.Context, chat telegram.Chat, topicID, offsetID, limit int) ([]telegram.Message, error)
	AuthorBio(ctx context.Context, author telegram.Author) (string, error)
}

// HarvestOptions holds options of one harvest.
type HarvestOptions struct {
	HoursBack        time.Duration
	TopicsLimit      int
	PageSize         int
	ParsingSessionID uuid.UUID
	PhoneNumber      string
}

// HarvestResult contains the records of all chats and one stat per chat attempted.
type HarvestResult struct {
	Records []models.MessageRecord
	Stats   []models.ChatStat
}

// enrichment selects how much metadata an extraction pass fetches.
type enrichment int

const (
	enrichFull    enrichment = iota // bios and topic fan-out
	enrichReduced                   // retry pass after a rate limit
)

func (e enrichment) String() string {
	if e == enrichReduced {
		return "reduced"
	}
	return "full"
}

// harvestRun is the state of one Harvest call.
type harvestRun struct {
	src    Source
	opts   HarvestOptions
	cutoff time.Time
	bios   *BioCache
}

// Engine turns the chats of an account into message records and chat stats.
type Engine struct {
	log   *logger.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a new harvesting engine.
func NewEngine(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Harvest processes chats one after another. A failing chat is recorded in its stat
// and never stops the others.
func (e *Engine) Harvest(ctx context.Context, src Source, chatIDs []int64, opts HarvestOptions) *HarvestResult {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.TopicsLimit <= 0 {
		opts.TopicsLimit = defaultTopicsLimit
	}

	run := &harvestRun{
		src:    src,
		opts:   opts,
		cutoff: e.now().UTC().Add(-opts.HoursBack),
		bios:   NewBioCache(),
	}

	e.log.Info().
		Str("phone", opts.PhoneNumber).
		Int("chats", len(chatIDs)).
		Time("cutoff", run.cutoff).
		Msg("harvest started")

	result := &HarvestResult{}
	for _, chatID := range chatIDs {
		if ctx.Err() != nil {
			e.log.Warn().Err(ctx.Err()).Msg("harvest interrupted")
			break
		}
		records, stat := e.harvestChat(ctx, run, chatID)
		result.Records = append(result.Records, records...)
		result.Stats = append(result.Stats, stat)
	}

	e.log.Info().
		Str("phone", opts.PhoneNumber).
		Int("records", len(result.Records)).
		Int("bios_cached", run.bios.Len()).
		Msg("harvest completed")

	return result
}

func (e *Engine) harvestChat(ctx context.Context, run *harvestRun, chatID int64) ([]models.MessageRecord, models.ChatStat) {
	stat := models.ChatStat{
		ParsingSessionID: run.opts.ParsingSessionID,
		PhoneNumber:      run.opts.PhoneNumber,
		ChatID:           chatID,
		ChatName:         fmt.Sprintf("chat %d", chatID),
		Status:           models.ChatSuccess,
		StartedAt:        e.now().UTC(),
	}
	log := e.log.With().Int64("chat_id", chatID).Logger()

	finish := func(records []models.MessageRecord, skipped int) ([]models.MessageRecord, models.ChatStat) {
		stat.MessagesFound = len(records)
		stat.MessagesSkipped = skipped
		stat.FinishedAt = e.now().UTC()
		return records, stat
	}

	var rl *telegram.RateLimitError

	chat, err := run.src.ResolveChat(ctx, chatID)
	if errors.As(err, &rl) {
		log.Warn().Dur("wait", rl.Wait).Msg("rate limited while resolving chat, retrying once")
		if serr := e.sleep(ctx, rl.Wait); serr != nil {
			err = serr
		} else {
			chat, err = run.src.ResolveChat(ctx, chatID)
		}
	}
	if err != nil {
		if errors.As(err, &rl) {
			log.Warn().Err(err).Msg("rate limited twice while resolving chat")
			stat.Fail(models.ChatError, models.ErrorKindRateLimited, err.Error())
		} else if errors.Is(err, telegram.ErrNotAccessible) {
			log.Warn().Err(err).Msg("chat not accessible, skipping")
			stat.Fail(models.ChatSkipped, models.ErrorKindNotAccessible, err.Error())
		} else {
			log.Error().Err(err).Msg("failed to resolve chat")
			stat.Fail(models.ChatError, models.ErrorKindResolve, err.Error())
		}
		return finish(nil, 0)
	}
	stat.ChatName = chat.Title

	records, skipped, err := e.extract(ctx, run, chat, enrichFull)

	if errors.As(err, &rl) {
		log.Warn().Dur("wait", rl.Wait).Msg("rate limited, retrying chat once in reduced mode")
		if serr := e.sleep(ctx, rl.Wait); serr != nil {
			err = serr
		} else {
			records, skipped, err = e.extract(ctx, run, chat, enrichReduced)
		}
	}

	switch {
	case err == nil:
		log.Info().
			Str("chat", chat.Title).
			Int("found", len(records)).
			Int("skipped", skipped).
			Msg("chat harvested")
		return finish(records, skipped)
	case errors.As(err, &rl):
		stat.Fail(models.ChatError, models.ErrorKindRateLimited, err.Error())
	case errors.Is(err, telegram.ErrNotAccessible):
		stat.Fail(models.ChatSkipped, models.ErrorKindNotAccessible, err.Error())
	default:
		stat.Fail(models.ChatError, models.ErrorKindTransportFailure, err.Error())
	}
	log.Warn().Err(err).Str("status", string(stat.Status)).Msg("chat failed")
	return finish(nil, skipped)
}

// extract scans every topic of a chat (or the chat itself) and builds records.
func (e *Engine) extract(ctx context.Context, run *harvestRun, chat telegram.Chat, mode enrichment) ([]models.MessageRecord, int, error) {
	topics := []int{0}
	if chat.IsForum && mode == enrichFull {
		list, err := run.src.ListTopics(ctx, chat, run.opts.TopicsLimit)
		var rl *telegram.RateLimitError
		switch {
		case errors.As(err, &rl):
			return nil, 0, err
		case err != nil:
			e.log.Warn().Err(err).Int64("chat_id", chat.ID).Msg("failed to list topics, scanning chat as a whole")
		case len(list) > 0:
			topics = topics[:0]
			for _, t := range list {
				topics = append(topics, t.ID)
			}
		}
	}

	var (
		records []models.MessageRecord
		skipped int
		failed  int
		lastErr error
	)
	for _, topicID := range topics {
		recs, sk, err := e.scan(ctx, run, chat, topicID, mode)
		skipped += sk
		if err != nil {
			var rl *telegram.RateLimitError
			if errors.As(err, &rl) || ctx.Err() != nil {
				return nil, skipped, err
			}
			// a broken topic does not cost the chat the topics that worked
			e.log.Warn().Err(err).Int64("chat_id", chat.ID).Int("topic_id", topicID).Msg("failed to scan topic")
			failed++
			lastErr = err
			continue
		}
		records = append(records, recs...)
	}
	if failed == len(topics) {
		return nil, skipped, lastErr
	}
	return records, skipped, nil
}

// scan pages through one history newest-first and stops at the first message
// older than the cutoff; the rest of that page counts as skipped.
func (e *Engine) scan(ctx context.Context, run *harvestRun, chat telegram.Chat, topicID int, mode enrichment) ([]models.MessageRecord, int, error) {
	var (
		records  []models.MessageRecord
		skipped  int
		offsetID int
	)

	for {
		page, err := run.src.History(ctx, chat, topicID, offsetID, run.opts.PageSize)
		if err != nil {
			return records, skipped, err
		}
		if len(page) == 0 {
			return records, skipped, nil
		}

		for i, msg := range page {
			if msg.Date.Before(run.cutoff) {
				skipped += len(page) - i
				return records, skipped, nil
			}
			rec, ok := e.record(ctx, run, chat, msg, mode)
			if !ok {
				skipped++
				continue
			}
			records = append(records, rec)
		}

		offsetID = page[len(page)-1].ID
	}
}

// record builds a MessageRecord; service messages, anonymous senders and empty texts are dropped.
func (e *Engine) record(ctx context.Context, run *harvestRun, chat telegram.Chat, msg telegram.Message, mode enrichment) (models.MessageRecord, bool) {
	if msg.Service || msg.Author == nil || strings.TrimSpace(msg.Text) == "" {
		return models.MessageRecord{}, false
	}
	a := msg.Author

	rec := models.MessageRecord{
		ParsingSessionID: run.opts.ParsingSessionID,
		ChatID:           chat.ID,
		MessageID:        msg.ID,
		MessageTime:      msg.Date.UTC(),
		ChatName:         chat.Title,
		AuthorID:         a.ID,
		AuthorKind:       a.Kind,
		FirstName:        a.FirstName,
		LastName:         optional(a.LastName),
		Username:         optional(a.Username),
		ProfileLink:      ProfileLink(chat, msg.ID, a.Username),
		MessageText:      msg.Text,
	}
	if mode == enrichFull {
		rec.Bio = run.bios.Lookup(ctx, run.src, *a)
	}
	return rec, true
}

// ProfileLink points at the author when it has a public handle, otherwise at the
// message in a public chat, otherwise names the chat and message.
func ProfileLink(chat telegram.Chat, messageID int, authorHandle string) string {
	switch {
	case authorHandle != "":
		return "https://t.me/" + authorHandle
	case chat.Username != "":
		return fmt.Sprintf("https://t.me/%s/%d", chat.Username, messageID)
	default:
		return fmt.Sprintf("%s #%d", chat.Title, messageID)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
