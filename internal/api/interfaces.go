package api

import (
	"context"

	"github.com/blockedby/tg-harvester/internal/collector"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/repository"
	"github.com/blockedby/tg-harvester/internal/telegram"
)

// AccountsRepository defines the interface for account data access.
type AccountsRepository interface {
	Create(ctx context.Context, a *models.Account) error
	List(ctx context.Context) ([]models.Account, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	Delete(ctx context.Context, id int64) error
	ListSelectedChats(ctx context.Context, accountID int64) ([]models.SelectedChat, error)
	ReplaceSelectedChats(ctx context.Context, accountID int64, chats []models.SelectedChat) error
}

// SessionManager defines the authentication operations of the Telegram session manager.
type SessionManager interface {
	RequestConnection(ctx context.Context, acc models.Account) (*telegram.ConnectResult, error)
	VerifyCode(ctx context.Context, acc models.Account, code, hash, password string) error
	CheckStatus(ctx context.Context, acc models.Account) (bool, error)
	ListChats(ctx context.Context, acc models.Account) ([]telegram.Dialog, error)
	Forget(ctx context.Context, acc models.Account) error
	LoginQR(ctx context.Context, acc models.Account, onToken func(url string)) error
	QRInProgress(acc models.Account) bool
	HasPendingChallenge(phone string) bool
}

// RunController defines the run manager operations.
type RunController interface {
	Start() (*collector.Cycle, error)
	Stop() bool
	Status() collector.RunStatus
	Current() *collector.Cycle
	LastReport() *collector.CycleReport
}

// Scheduler defines the interval trigger controls.
type Scheduler interface {
	Pause()
	Resume()
	Paused() bool
}

// StatsRepository defines the interface for stats data access.
type StatsRepository interface {
	ParsingStats(ctx context.Context, f repository.StatsFilter) ([]repository.ParsingLog, error)
	ParsingSessions(ctx context.Context, limit int) ([]models.ParsingSessionSummary, error)
	Errors(ctx context.Context, limit int) ([]repository.ParsingLog, error)
}

// MessagesRepository reads harvested messages.
type MessagesRepository interface {
	RecentMessages(ctx context.Context, f repository.MessageFilter) ([]models.MessageRecord, error)
}

// HubBroadcaster defines the interface for WebSocket broadcasting.
type HubBroadcaster interface {
	Broadcast(message any)
}
