package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
)

const (
	historyPageLimit = 100
	dialogsPageLimit = 100
	maxDialogPages   = 50
)

// Session is an authenticated connection used to read chats of one account.
// It is not safe for use by more than one harvest at a time.
type Session struct {
	acc       models.Account
	conn      Conn
	artifacts *ArtifactStore
	limiter   *RateLimiter
	log       *logger.Logger

	mu    sync.Mutex
	chats map[int64]Chat // by marked id, filled from the dialog list
}

func newSession(acc models.Account, conn Conn, artifacts *ArtifactStore, limiter *RateLimiter, log *logger.Logger) *Session {
	return &Session{
		acc:       acc,
		conn:      conn,
		artifacts: artifacts,
		limiter:   limiter,
		log:       log,
	}
}

// Account returns the account the session belongs to.
func (s *Session) Account() models.Account {
	return s.acc
}

// Close writes the refreshed artifact back and releases the connection.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if data, err := s.conn.Snapshot(ctx); err == nil && len(data) > 0 && s.artifacts != nil {
		if err := s.artifacts.Save(s.acc, data); err != nil {
			s.log.Warn().Err(err).Int64("account_id", s.acc.ID).Msg("telegram: failed to refresh session artifact")
		}
	}
	return s.conn.Close()
}

// call paces an API call and classifies its error.
func (s *Session) call(ctx context.Context, name string, fn func(api *tg.Client) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	err := classifyRPCError(fn(s.conn.API()))
	var rl *RateLimitError
	if errors.As(err, &rl) {
		s.limiter.SetFloodWait(rl.Wait)
		s.log.Warn().Dur("wait", rl.Wait).Str("call", name).Msg("telegram: FLOOD_WAIT received")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Dialogs lists the group, supergroup and channel dialogs of the account.
func (s *Session) Dialogs(ctx context.Context) ([]Dialog, error) {
	chats, err := s.loadChats(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Dialog, 0, len(chats))
	for _, c := range chats {
		out = append(out, Dialog{ID: c.ID, Title: c.Title, Username: c.Username, Kind: c.Kind, IsForum: c.IsForum})
	}
	return out, nil
}

func (s *Session) loadChats(ctx context.Context) ([]Chat, error) {
	var (
		out        []Chat
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	index := make(map[int64]Chat)
	for page := 0; page < maxDialogPages; page++ {
		var res tg.MessagesDialogsClass
		err := s.call(ctx, "get dialogs", func(api *tg.Client) error {
			var err error
			res, err = api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: offsetDate,
				OffsetID:   offsetID,
				OffsetPeer: offsetPeer,
				Limit:      dialogsPageLimit,
			})
			return err
		})
		if err != nil {
			return nil, err
		}

		p := dialogsPageOf(res)
		for _, c := range p.chats {
			if _, seen := index[c.ID]; !seen {
				index[c.ID] = c
				out = append(out, c)
			}
		}
		if p.last || p.nextPeer == nil {
			break
		}
		offsetDate, offsetID, offsetPeer = p.nextDate, p.nextID, p.nextPeer
	}

	s.mu.Lock()
	s.chats = index
	s.mu.Unlock()
	return out, nil
}

// ResolveChat returns the metadata of a chat the account is a member of.
func (s *Session) ResolveChat(ctx context.Context, chatID int64) (Chat, error) {
	s.mu.Lock()
	loaded := s.chats != nil
	s.mu.Unlock()

	if !loaded {
		if _, err := s.loadChats(ctx); err != nil {
			return Chat{}, err
		}
	}

	s.mu.Lock()
	c, ok := s.chats[chatID]
	s.mu.Unlock()
	if !ok {
		return Chat{}, fmt.Errorf("%w: chat %d is not in the dialog list", ErrNotAccessible, chatID)
	}
	return c, nil
}

// ListTopics returns up to limit forum topics of a chat.
func (s *Session) ListTopics(ctx context.Context, chat Chat, limit int) ([]Topic, error) {
	if !chat.IsForum {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var res *tg.MessagesForumTopics
	err := s.call(ctx, "get forum topics", func(api *tg.Client) error {
		var err error
		res, err = api.MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
			Peer:  inputPeer(chat),
			Limit: limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []Topic
	for _, t := range res.Topics {
		topic, ok := t.(*tg.ForumTopic)
		if !ok {
			continue
		}
		out = append(out, Topic{
			ID:         topic.ID,
			Title:      topic.Title,
			TopMessage: topic.TopMessage,
			Closed:     topic.Closed,
			Pinned:     topic.Pinned,
		})
	}
	return out, nil
}

// History returns one newest-first page of messages older than offsetID (0 = newest).
// A non-zero topicID reads the replies of that forum topic.
func (s *Session) History(ctx context.Context, chat Chat, topicID, offsetID, limit int) ([]Message, error) {
	if limit <= 0 || limit > historyPageLimit {
		limit = historyPageLimit
	}

	var res tg.MessagesMessagesClass
	err := s.call(ctx, "get history", func(api *tg.Client) error {
		var err error
		if topicID != 0 {
			res, err = api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
				Peer:     inputPeer(chat),
				MsgID:    topicID,
				OffsetID: offsetID,
				Limit:    limit,
			})
			return err
		}
		res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     inputPeer(chat),
			OffsetID: offsetID,
			Limit:    limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return extractMessages(res, chat, topicID), nil
}

// AuthorBio returns the profile biography of a user or the description of a channel.
func (s *Session) AuthorBio(ctx context.Context, author Author) (string, error) {
	var about string
	err := s.call(ctx, "get full profile", func(api *tg.Client) error {
		if author.Kind == models.AuthorChannel {
			full, err := api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
				ChannelID:  author.ID,
				AccessHash: author.AccessHash,
			})
			if err != nil {
				return err
			}
			if ch, ok := full.FullChat.(*tg.ChannelFull); ok {
				about = ch.About
			}
			return nil
		}

		full, err := api.UsersGetFullUser(ctx, &tg.InputUser{
			UserID:     author.ID,
			AccessHash: author.AccessHash,
		})
		if err != nil {
			return err
		}
		about = full.FullUser.About
		return nil
	})
	return about, err
}

func inputPeer(chat Chat) tg.InputPeerClass {
	switch chat.Kind {
	case KindGroup:
		return &tg.InputPeerChat{ChatID: chat.RawID}
	case KindSupergroup, KindChannel:
		return &tg.InputPeerChannel{ChannelID: chat.RawID, AccessHash: chat.AccessHash}
	default:
		return &tg.InputPeerUser{UserID: chat.RawID, AccessHash: chat.AccessHash}
	}
}

// chatOf converts a chat entity into a Chat; users and forbidden chats are rejected.
func chatOf(c tg.ChatClass) (Chat, bool) {
	switch ch := c.(type) {
	case *tg.Chat:
		if ch.Deactivated {
			return Chat{}, false
		}
		return Chat{ID: MarkedID(KindGroup, ch.ID), RawID: ch.ID, Kind: KindGroup, Title: ch.Title}, true
	case *tg.Channel:
		kind := KindChannel
		if ch.Megagroup || ch.Gigagroup {
			kind = KindSupergroup
		}
		return Chat{
			ID:         MarkedID(kind, ch.ID),
			RawID:      ch.ID,
			AccessHash: ch.AccessHash,
			Kind:       kind,
			Title:      ch.Title,
			Username:   ch.Username,
			IsForum:    ch.Forum,
		}, true
	}
	return Chat{}, false
}

type dialogsPage struct {
	chats    []Chat
	last     bool
	nextDate int
	nextID   int
	nextPeer tg.InputPeerClass
}

// dialogsPageOf collects the chats of a dialogs page and the offset of the next one.
func dialogsPageOf(res tg.MessagesDialogsClass) dialogsPage {
	var (
		p        dialogsPage
		dialogs  []tg.DialogClass
		chats    []tg.ChatClass
		users    []tg.UserClass
		messages []tg.MessageClass
	)

	switch d := res.(type) {
	case *tg.MessagesDialogs:
		dialogs, chats, users, messages = d.Dialogs, d.Chats, d.Users, d.Messages
		p.last = true
	case *tg.MessagesDialogsSlice:
		dialogs, chats, users, messages = d.Dialogs, d.Chats, d.Users, d.Messages
		p.last = len(d.Dialogs) < dialogsPageLimit
	default:
		p.last = true
		return p
	}

	byID := make(map[int64]Chat, len(chats))
	for _, c := range chats {
		if chat, ok := chatOf(c); ok {
			byID[chat.RawID] = chat
		}
	}

	var lastDialog *tg.Dialog
	for _, dc := range dialogs {
		d, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		lastDialog = d
		switch peer := d.Peer.(type) {
		case *tg.PeerChat:
			if c, ok := byID[peer.ChatID]; ok {
				p.chats = append(p.chats, c)
			}
		case *tg.PeerChannel:
			if c, ok := byID[peer.ChannelID]; ok {
				p.chats = append(p.chats, c)
			}
		}
	}
	if lastDialog == nil {
		p.last = true
		return p
	}

	p.nextID = lastDialog.TopMessage
	for _, mc := range messages {
		if m, ok := mc.(*tg.Message); ok && m.ID == lastDialog.TopMessage && samePeer(m.PeerID, lastDialog.Peer) {
			p.nextDate = m.Date
		}
	}
	switch peer := lastDialog.Peer.(type) {
	case *tg.PeerChat:
		p.nextPeer = &tg.InputPeerChat{ChatID: peer.ChatID}
	case *tg.PeerChannel:
		if c, ok := byID[peer.ChannelID]; ok {
			p.nextPeer = inputPeer(c)
		}
	case *tg.PeerUser:
		for _, uc := range users {
			if u, ok := uc.(*tg.User); ok && u.ID == peer.UserID {
				p.nextPeer = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
			}
		}
	}
	return p
}

func samePeer(a, b tg.PeerClass) bool {
	switch pa := a.(type) {
	case *tg.PeerUser:
		pb, ok := b.(*tg.PeerUser)
		return ok && pa.UserID == pb.UserID
	case *tg.PeerChat:
		pb, ok := b.(*tg.PeerChat)
		return ok && pa.ChatID == pb.ChatID
	case *tg.PeerChannel:
		pb, ok := b.(*tg.PeerChannel)
		return ok && pa.ChannelID == pb.ChannelID
	}
	return false
}

// extractMessages converts a history page, keeping the server's newest-first order.
func extractMessages(res tg.MessagesMessagesClass, chat Chat, topicID int) []Message {
	var (
		raw   []tg.MessageClass
		users []tg.UserClass
		chats []tg.ChatClass
	)
	switch h := res.(type) {
	case *tg.MessagesMessages:
		raw, users, chats = h.Messages, h.Users, h.Chats
	case *tg.MessagesMessagesSlice:
		raw, users, chats = h.Messages, h.Users, h.Chats
	case *tg.MessagesChannelMessages:
		raw, users, chats = h.Messages, h.Users, h.Chats
	default:
		return nil
	}

	userByID := make(map[int64]*tg.User, len(users))
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			userByID[u.ID] = u
		}
	}
	channelByID := make(map[int64]*tg.Channel, len(chats))
	for _, cc := range chats {
		if c, ok := cc.(*tg.Channel); ok {
			channelByID[c.ID] = c
		}
	}

	out := make([]Message, 0, len(raw))
	for _, mc := range raw {
		switch m := mc.(type) {
		case *tg.Message:
			out = append(out, Message{
				ID:      m.ID,
				Date:    time.Unix(int64(m.Date), 0).UTC(),
				Text:    m.Message,
				Author:  authorOf(m, chat, userByID, channelByID),
				TopicID: topicID,
			})
		case *tg.MessageService:
			out = append(out, Message{
				ID:      m.ID,
				Date:    time.Unix(int64(m.Date), 0).UTC(),
				TopicID: topicID,
				Service: true,
			})
		}
	}
	return out
}

// authorOf resolves the sender: a user, a channel posting as itself, or nil.
func authorOf(m *tg.Message, chat Chat, users map[int64]*tg.User, channels map[int64]*tg.Channel) *Author {
	from, ok := m.GetFromID()
	if !ok {
		// broadcast posts carry no sender; the channel is the author
		if chat.Kind == KindChannel {
			return &Author{
				Kind:       models.AuthorChannel,
				ID:         chat.RawID,
				AccessHash: chat.AccessHash,
				FirstName:  chat.Title,
				Username:   chat.Username,
			}
		}
		return nil
	}

	switch p := from.(type) {
	case *tg.PeerUser:
		u, ok := users[p.UserID]
		if !ok {
			return nil
		}
		return &Author{
			Kind:       models.AuthorUser,
			ID:         u.ID,
			AccessHash: u.AccessHash,
			FirstName:  u.FirstName,
			LastName:   u.LastName,
			Username:   u.Username,
		}
	case *tg.PeerChannel:
		c, ok := channels[p.ChannelID]
		if !ok {
			return nil
		}
		return &Author{
			Kind:       models.AuthorChannel,
			ID:         c.ID,
			AccessHash: c.AccessHash,
			FirstName:  c.Title,
			Username:   c.Username,
		}
	}
	return nil
}
