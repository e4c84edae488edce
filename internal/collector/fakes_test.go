package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/sink"
	"github.com/blockedby/tg-harvester/internal/telegram"
)

type fakeChat struct {
	chat        telegram.Chat
	resolveErr  error
	resolveErrs []error // returned by successive ResolveChat calls before resolveErr
	topics      []telegram.Topic
	topicsErr   error
	messages    map[int][]telegram.Message // by topic id
	historyErr  []error                    // returned by successive History calls
	panicOn     bool
}

type historyCall struct {
	chatID   int64
	topicID  int
	offsetID int
}

type fakeSource struct {
	mu       sync.Mutex
	chats    map[int64]*fakeChat
	bios     map[int64]string
	bioErr   error
	bioCalls int
	calls    []historyCall
	resolves int
}

func newFakeSource(chats ...*fakeChat) *fakeSource {
	s := &fakeSource{chats: make(map[int64]*fakeChat), bios: make(map[int64]string)}
	for _, c := range chats {
		s.chats[c.chat.ID] = c
	}
	return s
}

func (s *fakeSource) ResolveChat(_ context.Context, chatID int64) (telegram.Chat, error) {
	c, ok := s.chats[chatID]
	if !ok {
		return telegram.Chat{}, telegram.ErrNotAccessible
	}
	if c.panicOn {
		panic("resolve exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolves++
	if len(c.resolveErrs) > 0 {
		err := c.resolveErrs[0]
		c.resolveErrs = c.resolveErrs[1:]
		if err != nil {
			return telegram.Chat{}, err
		}
	}
	return c.chat, c.resolveErr
}

func (s *fakeSource) ListTopics(_ context.Context, chat telegram.Chat, _ int) ([]telegram.Topic, error) {
	c := s.chats[chat.ID]
	return c.topics, c.topicsErr
}

func (s *fakeSource) History(_ context.Context, chat telegram.Chat, topicID, offsetID, limit int) ([]telegram.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, historyCall{chatID: chat.ID, topicID: topicID, offsetID: offsetID})

	c := s.chats[chat.ID]
	if len(c.historyErr) > 0 {
		err := c.historyErr[0]
		c.historyErr = c.historyErr[1:]
		if err != nil {
			return nil, err
		}
	}

	all := append([]telegram.Message(nil), c.messages[topicID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	var page []telegram.Message
	for _, m := range all {
		if offsetID != 0 && m.ID >= offsetID {
			continue
		}
		page = append(page, m)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (s *fakeSource) AuthorBio(_ context.Context, author telegram.Author) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bioCalls++
	if s.bioErr != nil {
		return "", s.bioErr
	}
	return s.bios[author.ID], nil
}

func (s *fakeSource) historyCalls() []historyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]historyCall(nil), s.calls...)
}

// msg builds a user message sent age ago.
func msg(now time.Time, id int, age time.Duration, text string, author *telegram.Author) telegram.Message {
	return telegram.Message{ID: id, Date: now.Add(-age).UTC(), Text: text, Author: author}
}

func user(id int64, username string) *telegram.Author {
	return &telegram.Author{Kind: models.AuthorUser, ID: id, FirstName: "User", Username: username}
}

type fakeSession struct {
	*fakeSource
	onClose func()
	closed  bool
}

func (s *fakeSession) Close() error {
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

type fakeRegistry struct {
	accounts []models.Account
	chats    map[int64][]int64
	err      error
}

func (r *fakeRegistry) GetConnectedAccounts(context.Context) ([]models.Account, error) {
	return r.accounts, r.err
}

func (r *fakeRegistry) GetSelectedChats(_ context.Context, accountID int64) ([]int64, error) {
	return r.chats[accountID], nil
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]models.MessageRecord
	stats   []models.ChatStat
	dupes   map[int]bool // message ids treated as duplicates
}

func (s *fakeSink) InsertMessages(_ context.Context, records []models.MessageRecord) sink.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	var res sink.Result
	for _, r := range records {
		if s.dupes[r.MessageID] {
			res.Duplicates++
		} else {
			res.Inserted++
		}
	}
	return res
}

func (s *fakeSink) InsertStats(_ context.Context, stats []models.ChatStat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, stats...)
	return true
}

func (s *fakeSink) records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type fakePublisher struct {
	mu     sync.Mutex
	events []CycleEvent
}

func (p *fakePublisher) PublishCycleEvent(_ context.Context, e CycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
