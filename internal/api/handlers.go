// Package api provides the HTTP control surface of the harvester.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-fuego/fuego"
	"github.com/google/uuid"

	"github.com/blockedby/tg-harvester/internal/collector"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/repository"
	"github.com/blockedby/tg-harvester/internal/telegram"
	"github.com/blockedby/tg-harvester/internal/web"
)

// qrLoginTimeout bounds a QR login started over HTTP.
const qrLoginTimeout = 3 * time.Minute

// ============================================================================
// Errors
// ============================================================================

// mapError converts domain errors into HTTP errors.
func mapError(err error) error {
	if kind := telegram.AuthErrorKind(err); kind != "" {
		return fuego.BadRequestError{Title: kind, Detail: kind}
	}

	var rl *telegram.RateLimitError
	switch {
	case errors.As(err, &rl):
		return fuego.HTTPError{
			Status: http.StatusTooManyRequests,
			Title:  "rate_limited",
			Detail: "retry after " + rl.Wait.String(),
		}
	case errors.Is(err, collector.ErrAlreadyRunning):
		return fuego.ConflictError{Title: "already_running", Detail: err.Error()}
	case errors.Is(err, repository.ErrAccountExists):
		return fuego.ConflictError{Title: "account_exists", Detail: err.Error()}
	case errors.Is(err, telegram.ErrNotAuthorized):
		return fuego.ConflictError{Title: "not_connected", Detail: "account is not connected"}
	case errors.Is(err, telegram.ErrQRInProgress):
		return fuego.ConflictError{Title: "qr_in_progress", Detail: err.Error()}
	}
	return fuego.InternalServerError{Detail: err.Error()}
}

// ============================================================================
// Health
// ============================================================================

func (s *Server) healthCheck(c fuego.ContextNoBody) (HealthResponse, error) {
	return HealthResponse{
		Status:  "ok",
		Version: s.version,
	}, nil
}

// ============================================================================
// Accounts Handlers
// ============================================================================

func (s *Server) account(ctx context.Context, rawID string) (*models.Account, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return nil, fuego.BadRequestError{Detail: "Invalid account ID"}
	}
	acc, err := s.deps.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	if acc == nil {
		return nil, fuego.NotFoundError{Detail: "Account not found"}
	}
	return acc, nil
}

func (s *Server) accountResponse(a models.Account) AccountResponse {
	resp := AccountFromModel(a)
	resp.PendingChallenge = s.deps.Sessions.HasPendingChallenge(a.PhoneNumber)
	return resp
}

func (s *Server) listAccounts(c fuego.ContextNoBody) ([]AccountResponse, error) {
	accounts, err := s.deps.Accounts.List(c.Context())
	if err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	resp := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, s.accountResponse(a))
	}
	return resp, nil
}

func (s *Server) getAccount(c fuego.ContextNoBody) (AccountResponse, error) {
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return AccountResponse{}, err
	}
	return s.accountResponse(*acc), nil
}

func (s *Server) createAccount(c fuego.ContextWithBody[AccountCreateRequest]) (AccountCreateResponse, error) {
	req, err := c.Body()
	if err != nil {
		return AccountCreateResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	phone := strings.TrimSpace(req.PhoneNumber)
	if models.SessionKey(phone) == "" {
		return AccountCreateResponse{}, fuego.BadRequestError{Detail: "phone_number must contain digits"}
	}

	acc := &models.Account{
		APIID:       req.APIID,
		APIHash:     req.APIHash,
		PhoneNumber: phone,
		Name:        req.Name,
	}
	if acc.APIID == 0 {
		acc.APIID = s.deps.DefaultAPIID
	}
	if acc.APIHash == "" {
		acc.APIHash = s.deps.DefaultAPIHash
	}
	if acc.APIID == 0 || acc.APIHash == "" {
		return AccountCreateResponse{}, fuego.BadRequestError{Title: "invalid_credentials", Detail: "api_id and api_hash are required"}
	}

	if err := s.deps.Accounts.Create(c.Context(), acc); err != nil {
		return AccountCreateResponse{}, mapError(err)
	}

	res, err := s.deps.Sessions.RequestConnection(c.Context(), *acc)
	if err != nil {
		return AccountCreateResponse{}, mapError(err)
	}
	if res.AlreadyConnected {
		acc.ConnectionState = models.StateConnected
	} else {
		acc.ConnectionState = models.StateCodeRequested
	}

	return AccountCreateResponse{
		Account:    s.accountResponse(*acc),
		Connection: connectResponse(res),
	}, nil
}

func connectResponse(res *telegram.ConnectResult) ConnectResponse {
	return ConnectResponse{
		AlreadyConnected: res.AlreadyConnected,
		PhoneCodeHash:    res.ChallengeHash,
		NeedsPassword:    res.NeedsPassword,
		SentAt:           res.SentAt,
	}
}

func (s *Server) deleteAccount(c fuego.ContextNoBody) (MessageResponse, error) {
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return MessageResponse{}, err
	}
	if err := s.deps.Sessions.Forget(c.Context(), *acc); err != nil {
		return MessageResponse{}, mapError(err)
	}
	if err := s.deps.Accounts.Delete(c.Context(), acc.ID); err != nil {
		return MessageResponse{}, mapError(err)
	}
	return MessageResponse{Message: "account deleted"}, nil
}

func (s *Server) connectAccount(c fuego.ContextNoBody) (ConnectResponse, error) {
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return ConnectResponse{}, err
	}
	res, err := s.deps.Sessions.RequestConnection(c.Context(), *acc)
	if err != nil {
		return ConnectResponse{}, mapError(err)
	}
	return connectResponse(res), nil
}

func (s *Server) verifyAccount(c fuego.ContextWithBody[VerifyRequest]) (StatusResponse, error) {
	req, err := c.Body()
	if err != nil {
		return StatusResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return StatusResponse{}, err
	}

	err = s.deps.Sessions.VerifyCode(c.Context(), *acc, strings.TrimSpace(req.Code), req.PhoneCodeHash, req.Password)
	if err != nil {
		return StatusResponse{}, mapError(err)
	}
	return StatusResponse{Connected: true, ConnectionState: models.StateConnected}, nil
}

func (s *Server) checkStatus(c fuego.ContextNoBody) (StatusResponse, error) {
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return StatusResponse{}, err
	}
	ok, err := s.deps.Sessions.CheckStatus(c.Context(), *acc)
	if err != nil {
		return StatusResponse{}, mapError(err)
	}
	state := models.StateDisconnected
	if ok {
		state = models.StateConnected
	}
	return StatusResponse{Connected: ok, ConnectionState: state}, nil
}

func (s *Server) startQRLogin(c fuego.ContextNoBody) (QRStartResponse, error) {
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return QRStartResponse{}, err
	}
	if s.deps.Sessions.QRInProgress(*acc) {
		return QRStartResponse{Status: "already in progress"}, nil
	}

	account := *acc
	// the login outlives the request; tokens are pushed over the websocket
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), qrLoginTimeout)
		defer cancel()

		err := s.deps.Sessions.LoginQR(ctx, account, func(url string) {
			s.broadcast(web.EventQRToken, web.QRPayload{AccountID: account.ID, URL: url})
		})
		switch {
		case err == nil:
			s.broadcast(web.EventQRDone, web.QRPayload{AccountID: account.ID})
		case errors.Is(err, telegram.ErrQRInProgress), errors.Is(err, context.Canceled):
		default:
			s.broadcast(web.EventError, web.QRPayload{AccountID: account.ID, Error: err.Error()})
		}
	}()

	return QRStartResponse{Status: "started"}, nil
}

func (s *Server) broadcast(eventType string, payload any) {
	if s.deps.Hub == nil {
		return
	}
	s.deps.Hub.Broadcast(web.WSEvent{Type: eventType, Payload: payload})
}

// ============================================================================
// Chats Handlers
// ============================================================================

func (s *Server) listChats(c fuego.ContextNoBody) ([]ChatResponse, error) {
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return nil, err
	}
	dialogs, err := s.deps.Sessions.ListChats(c.Context(), *acc)
	if err != nil {
		return nil, mapError(err)
	}
	selected, err := s.deps.Accounts.ListSelectedChats(c.Context(), acc.ID)
	if err != nil {
		return nil, mapError(err)
	}
	isSelected := make(map[int64]bool, len(selected))
	for _, sc := range selected {
		isSelected[sc.ChatID] = true
	}

	resp := make([]ChatResponse, 0, len(dialogs))
	for _, d := range dialogs {
		resp = append(resp, ChatResponse{
			ID:       d.ID,
			Title:    d.Title,
			Username: d.Username,
			Kind:     string(d.Kind),
			IsForum:  d.IsForum,
			Selected: isSelected[d.ID],
		})
	}
	return resp, nil
}

func (s *Server) listSelectedChats(c fuego.ContextNoBody) ([]SelectedChatResponse, error) {
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return nil, err
	}
	chats, err := s.deps.Accounts.ListSelectedChats(c.Context(), acc.ID)
	if err != nil {
		return nil, mapError(err)
	}
	resp := make([]SelectedChatResponse, 0, len(chats))
	for _, sc := range chats {
		resp = append(resp, SelectedChatResponse{ChatID: sc.ChatID, Title: sc.Title})
	}
	return resp, nil
}

func (s *Server) replaceSelectedChats(c fuego.ContextWithBody[SelectChatsRequest]) ([]SelectedChatResponse, error) {
	req, err := c.Body()
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}
	acc, err := s.account(c.Context(), c.PathParam("id"))
	if err != nil {
		return nil, err
	}

	chats := make([]models.SelectedChat, 0, len(req.Chats))
	for _, sc := range req.Chats {
		if sc.ChatID == 0 {
			return nil, fuego.BadRequestError{Detail: "chat_id must be non-zero"}
		}
		chats = append(chats, models.SelectedChat{AccountID: acc.ID, ChatID: sc.ChatID, Title: sc.Title})
	}
	if err := s.deps.Accounts.ReplaceSelectedChats(c.Context(), acc.ID, chats); err != nil {
		return nil, mapError(err)
	}
	if req.Chats == nil {
		return []SelectedChatResponse{}, nil
	}
	return req.Chats, nil
}

// ============================================================================
// Parser Handlers
// ============================================================================

func (s *Server) startParser(c fuego.ContextNoBody) (ParserStartResponse, error) {
	cycle, err := s.deps.Runs.Start()
	if err != nil {
		return ParserStartResponse{}, mapError(err)
	}
	return ParserStartResponse{Status: "started", ParsingSessionID: cycle.ParsingSessionID}, nil
}

func (s *Server) stopParser(c fuego.ContextNoBody) (ParserStopResponse, error) {
	if s.deps.Runs.Stop() {
		return ParserStopResponse{Status: "stopping"}, nil
	}
	return ParserStopResponse{Status: string(collector.StatusIdle)}, nil
}

func (s *Server) parserStatus(c fuego.ContextNoBody) (ParserStatusResponse, error) {
	resp := ParserStatusResponse{
		Status:     s.deps.Runs.Status(),
		Current:    s.deps.Runs.Current(),
		LastReport: s.deps.Runs.LastReport(),
	}
	if s.deps.Scheduler != nil {
		resp.SchedulePaused = s.deps.Scheduler.Paused()
	}
	return resp, nil
}

func (s *Server) pauseSchedule(c fuego.ContextNoBody) (ParserStatusResponse, error) {
	if s.deps.Scheduler == nil {
		return ParserStatusResponse{}, fuego.NotFoundError{Detail: "scheduler is disabled"}
	}
	s.deps.Scheduler.Pause()
	return s.parserStatus(c)
}

func (s *Server) resumeSchedule(c fuego.ContextNoBody) (ParserStatusResponse, error) {
	if s.deps.Scheduler == nil {
		return ParserStatusResponse{}, fuego.NotFoundError{Detail: "scheduler is disabled"}
	}
	s.deps.Scheduler.Resume()
	return s.parserStatus(c)
}

// ============================================================================
// Stats Handlers
// ============================================================================

func (s *Server) parsingStats(c fuego.ContextNoBody) (ParsingStatsResponse, error) {
	filter := repository.StatsFilter{
		PhoneNumber: c.QueryParam("phone_number"),
		Status:      models.ChatStatus(c.QueryParam("status")),
		Limit:       parseIntWithDefault(c.QueryParam("limit"), 0),
	}
	if raw := c.QueryParam("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return ParsingStatsResponse{}, fuego.BadRequestError{Detail: "Invalid session_id"}
		}
		filter.ParsingSessionID = &id
	}
	switch filter.Status {
	case "", models.ChatSuccess, models.ChatError, models.ChatSkipped:
	default:
		return ParsingStatsResponse{}, fuego.BadRequestError{Detail: "Invalid status"}
	}

	stats, err := s.deps.Stats.ParsingStats(c.Context(), filter)
	if err != nil {
		return ParsingStatsResponse{}, mapError(err)
	}
	if stats == nil {
		stats = []repository.ParsingLog{}
	}
	return ParsingStatsResponse{Stats: stats, Total: len(stats)}, nil
}

func (s *Server) parsingSessions(c fuego.ContextNoBody) (ParsingSessionsResponse, error) {
	sessions, err := s.deps.Stats.ParsingSessions(c.Context(), parseIntWithDefault(c.QueryParam("limit"), 0))
	if err != nil {
		return ParsingSessionsResponse{}, mapError(err)
	}
	if sessions == nil {
		sessions = []models.ParsingSessionSummary{}
	}
	return ParsingSessionsResponse{Sessions: sessions, Total: len(sessions)}, nil
}

func (s *Server) recentMessages(c fuego.ContextNoBody) (MessagesResponse, error) {
	filter := repository.MessageFilter{Limit: parseIntWithDefault(c.QueryParam("limit"), 0)}
	if raw := c.QueryParam("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return MessagesResponse{}, fuego.BadRequestError{Detail: "Invalid session_id"}
		}
		filter.ParsingSessionID = &id
	}

	msgs, err := s.deps.Messages.RecentMessages(c.Context(), filter)
	if err != nil {
		return MessagesResponse{}, mapError(err)
	}
	if msgs == nil {
		msgs = []models.MessageRecord{}
	}
	return MessagesResponse{Messages: msgs, Total: len(msgs)}, nil
}

func (s *Server) parsingErrors(c fuego.ContextNoBody) (ParsingStatsResponse, error) {
	logs, err := s.deps.Stats.Errors(c.Context(), parseIntWithDefault(c.QueryParam("limit"), 0))
	if err != nil {
		return ParsingStatsResponse{}, mapError(err)
	}
	if logs == nil {
		logs = []repository.ParsingLog{}
	}
	return ParsingStatsResponse{Stats: logs, Total: len(logs)}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseIntWithDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
