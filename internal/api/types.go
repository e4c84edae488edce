package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-harvester/internal/collector"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/repository"
)

// ============================================================================
// Common Types
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status" example:"ok" description:"Health status"`
	Version string `json:"version" example:"dev" description:"Application version"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" description:"Human readable outcome"`
}

// ============================================================================
// Account Types
// ============================================================================

// AccountResponse represents an account in API responses. The API hash is never returned.
type AccountResponse struct {
	ID               int64                  `json:"id" description:"Account identifier"`
	PhoneNumber      string                 `json:"phone_number" description:"Phone number in international format"`
	Name             string                 `json:"name" description:"Display name"`
	APIID            int                    `json:"api_id" description:"Telegram API id"`
	ConnectionState  models.ConnectionState `json:"connection_state" description:"disconnected, code_requested or connected"`
	PendingChallenge bool                   `json:"pending_challenge" description:"Whether a code request is waiting for verification"`
	CreatedAt        time.Time              `json:"created_at" description:"Record creation timestamp"`
	UpdatedAt        time.Time              `json:"updated_at" description:"Last update timestamp"`
}

// AccountFromModel converts a model to a response.
func AccountFromModel(a models.Account) AccountResponse {
	return AccountResponse{
		ID:              a.ID,
		PhoneNumber:     a.PhoneNumber,
		Name:            a.Name,
		APIID:           a.APIID,
		ConnectionState: a.ConnectionState,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// AccountCreateRequest registers an account and requests a login code.
type AccountCreateRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required" example:"+15551234567" description:"Phone number in international format"`
	Name        string `json:"name" description:"Display name"`
	APIID       int    `json:"api_id" description:"Telegram API id; the service default is used when zero"`
	APIHash     string `json:"api_hash" description:"Telegram API hash; the service default is used when empty"`
}

// AccountCreateResponse is the outcome of registering an account.
type AccountCreateResponse struct {
	Account    AccountResponse `json:"account"`
	Connection ConnectResponse `json:"connection"`
}

// ConnectResponse is the outcome of a connection request.
type ConnectResponse struct {
	AlreadyConnected bool      `json:"already_connected" description:"The stored session is already authorized"`
	PhoneCodeHash    string    `json:"phone_code_hash,omitempty" description:"Challenge identifier to send back with the code"`
	NeedsPassword    bool      `json:"needs_password" description:"A two-factor password is expected with the code"`
	SentAt           time.Time `json:"sent_at,omitempty" description:"When the code was requested"`
}

// VerifyRequest submits a login code and, for 2FA accounts, the password.
type VerifyRequest struct {
	Code          string `json:"code" validate:"required" description:"Login code received in Telegram"`
	PhoneCodeHash string `json:"phone_code_hash" description:"Challenge identifier from the connect call"`
	Password      string `json:"password,omitempty" description:"Two-factor password"`
}

// StatusResponse reports whether the stored session is authorized.
type StatusResponse struct {
	Connected       bool                   `json:"connected" description:"The stored session is authorized"`
	ConnectionState models.ConnectionState `json:"connection_state" description:"Persisted connection state"`
}

// QRStartResponse acknowledges a QR login; tokens arrive over the websocket.
type QRStartResponse struct {
	Status string `json:"status" example:"started" description:"started or already in progress"`
}

// ============================================================================
// Chat Types
// ============================================================================

// ChatResponse is a dialog the account can harvest.
type ChatResponse struct {
	ID       int64  `json:"id" description:"Marked chat id"`
	Title    string `json:"title" description:"Chat title"`
	Username string `json:"username,omitempty" description:"Public handle"`
	Kind     string `json:"kind" description:"group, supergroup or channel"`
	IsForum  bool   `json:"is_forum" description:"The chat has topics"`
	Selected bool   `json:"selected" description:"The chat is selected for harvesting"`
}

// SelectedChatResponse is one selected chat.
type SelectedChatResponse struct {
	ChatID int64  `json:"chat_id" description:"Marked chat id"`
	Title  string `json:"title" description:"Chat title at selection time"`
}

// SelectChatsRequest replaces the selected chat set.
type SelectChatsRequest struct {
	Chats []SelectedChatResponse `json:"chats" description:"Complete new selection; an empty list clears it"`
}

// ============================================================================
// Parser Types
// ============================================================================

// ParserStatusResponse reports the run manager and scheduler state.
type ParserStatusResponse struct {
	Status         collector.RunStatus    `json:"status" description:"idle or running"`
	Current        *collector.Cycle       `json:"current,omitempty" description:"The cycle in flight"`
	LastReport     *collector.CycleReport `json:"last_report,omitempty" description:"Report of the last finished cycle"`
	SchedulePaused bool                   `json:"schedule_paused" description:"Interval trigger is paused"`
}

// ParserStartResponse acknowledges a manual start.
type ParserStartResponse struct {
	Status           string    `json:"status" example:"started"`
	ParsingSessionID uuid.UUID `json:"parsing_session_id"`
}

// ParserStopResponse acknowledges a stop request.
type ParserStopResponse struct {
	Status string `json:"status" example:"stopping" description:"stopping or idle"`
}

// ============================================================================
// Stats Types
// ============================================================================

// ParsingStatsResponse lists per-chat stats.
type ParsingStatsResponse struct {
	Stats []repository.ParsingLog `json:"stats"`
	Total int                     `json:"total"`
}

// MessagesResponse lists harvested messages.
type MessagesResponse struct {
	Messages []models.MessageRecord `json:"messages"`
	Total    int                    `json:"total"`
}

// ParsingSessionsResponse lists cycle aggregates.
type ParsingSessionsResponse struct {
	Sessions []models.ParsingSessionSummary `json:"sessions"`
	Total    int                            `json:"total"`
}
