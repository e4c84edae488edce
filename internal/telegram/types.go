package telegram

import (
	"time"

	"github.com/blockedby/tg-harvester/internal/models"
)

// ChatKind is the kind of a dialog.
type ChatKind string

// ChatKind constants.
const (
	KindUser       ChatKind = "user"
	KindGroup      ChatKind = "group"
	KindSupergroup ChatKind = "supergroup"
	KindChannel    ChatKind = "channel"
)

// Chat is a resolved chat the account can read.
type Chat struct {
	ID         int64    // marked id, see MarkedID
	RawID      int64    // id without the channel/chat marker
	AccessHash int64    // zero for basic groups
	Kind       ChatKind // dialog kind
	Title      string   // chat title
	Username   string   // public handle without @, may be empty
	IsForum    bool     // forum-type supergroup
}

// Topic represents a forum topic
type Topic struct {
	ID         int    // topic id (same as message_thread_id)
	Title      string // topic title
	TopMessage int    // id of last message in topic
	Closed     bool   // whether topic is closed
	Pinned     bool   // whether topic is pinned
}

// Author is the sender of a message: a user, or a chat posting as itself.
type Author struct {
	Kind       models.AuthorKind
	ID         int64
	AccessHash int64
	FirstName  string
	LastName   string
	Username   string
}

// Message represents a parsed telegram message
type Message struct {
	ID      int       // message id (unique within chat)
	Date    time.Time // UTC send time from the protocol timestamp
	Text    string    // message text or media caption
	Author  *Author   // nil when the sender could not be resolved
	TopicID int       // forum topic id, 0 outside forums
	Service bool      // service (join, pin, ...) message
}

// Dialog is an entry of the account's chat list.
type Dialog struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Username string   `json:"username,omitempty"`
	Kind     ChatKind `json:"kind"`
	IsForum  bool     `json:"is_forum"`
}

const channelMarker = int64(-1000000000000)

// MarkedID converts a raw peer id into the single id space used for chat selection:
// users stay positive, basic groups become -id and channels -1000000000000-id.
func MarkedID(kind ChatKind, rawID int64) int64 {
	switch kind {
	case KindGroup:
		return -rawID
	case KindSupergroup, KindChannel:
		return channelMarker - rawID
	default:
		return rawID
	}
}
