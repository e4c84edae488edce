package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

// Authentication errors surfaced verbatim to the caller.
var (
	ErrInvalidCode        = errors.New("invalid_code")
	ErrExpiredCode        = errors.New("expired_code")
	ErrPasswordRequired   = errors.New("password_required")
	ErrInvalidCredentials = errors.New("invalid_credentials")
)

// Connectivity errors.
var (
	ErrNotAccessible = errors.New("not_accessible")
	ErrNotAuthorized = errors.New("session is not authorized")
)

// RateLimitError is returned when Telegram asks the caller to wait.
type RateLimitError struct {
	Wait time.Duration
	Err  error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate_limited: wait %s", e.Wait)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// AuthErrorKind returns the machine readable kind of an authentication error, or "".
func AuthErrorKind(err error) string {
	for _, kind := range []error{ErrInvalidCode, ErrExpiredCode, ErrPasswordRequired, ErrInvalidCredentials} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ""
}

var (
	invalidCodeTypes = []string{"PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"}
	expiredCodeTypes = []string{"PHONE_CODE_EXPIRED"}
	credentialTypes  = []string{
		"PHONE_NUMBER_INVALID",
		"PHONE_NUMBER_BANNED",
		"PHONE_NUMBER_UNOCCUPIED",
		"API_ID_INVALID",
		"API_ID_PUBLISHED_FLOOD",
		"PASSWORD_HASH_INVALID",
		"AUTH_KEY_UNREGISTERED",
		"SESSION_REVOKED",
	}
	notAccessibleTypes = []string{
		"CHANNEL_PRIVATE",
		"CHANNEL_INVALID",
		"CHAT_FORBIDDEN",
		"CHAT_ID_INVALID",
		"PEER_ID_INVALID",
		"USER_BANNED_IN_CHANNEL",
		"CHAT_ADMIN_REQUIRED",
	}
)

// classifyAuthError maps RPC errors of the sign-in flow to authentication kinds.
func classifyAuthError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := floodWait(err); ok {
		return &RateLimitError{Wait: wait, Err: err}
	}
	switch {
	case tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		return ErrPasswordRequired
	case tgerr.Is(err, invalidCodeTypes...):
		return fmt.Errorf("%w: %v", ErrInvalidCode, err)
	case tgerr.Is(err, expiredCodeTypes...):
		return fmt.Errorf("%w: %v", ErrExpiredCode, err)
	case tgerr.Is(err, credentialTypes...):
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return err
}

// classifyRPCError maps errors of data calls to RateLimitError or ErrNotAccessible.
func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := floodWait(err); ok {
		return &RateLimitError{Wait: wait, Err: err}
	}
	if tgerr.Is(err, notAccessibleTypes...) {
		return fmt.Errorf("%w: %v", ErrNotAccessible, err)
	}
	return err
}

// floodWait extracts the wait duration of a FLOOD_WAIT error.
func floodWait(err error) (time.Duration, bool) {
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) && (rpcErr.Code == 420 || strings.HasPrefix(rpcErr.Type, "FLOOD_WAIT")) {
		return time.Duration(rpcErr.Argument) * time.Second, true
	}

	// wrapped errors sometimes only keep the text, e.g. "rpc error code 420: FLOOD_WAIT (15)"
	str := err.Error()
	if idx := strings.Index(str, "FLOOD_WAIT_"); idx >= 0 {
		var seconds int
		if _, scanErr := fmt.Sscanf(str[idx+len("FLOOD_WAIT_"):], "%d", &seconds); scanErr == nil {
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}
