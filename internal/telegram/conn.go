package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-harvester/internal/models"
)

// Conn is a live protocol connection bound to one account.
type Conn interface {
	// Authorized reports whether the session carried by the connection is logged in.
	Authorized(ctx context.Context) (bool, error)
	// SendCode issues a login challenge and returns its hash.
	// An empty hash with a nil error means the session is already authorized.
	SendCode(ctx context.Context, phone string) (string, error)
	// SignIn redeems the code; returns ErrPasswordRequired when 2FA is enabled.
	SignIn(ctx context.Context, phone, code, hash string) error
	// Password completes the 2FA step.
	Password(ctx context.Context, password string) error
	// Snapshot returns the current session artifact bytes.
	Snapshot(ctx context.Context) ([]byte, error)
	// API returns the raw API client.
	API() *tg.Client
	// Close releases the connection.
	Close() error
}

// Dialer opens a connection for an account, seeding it with an artifact (nil for a fresh one).
type Dialer func(ctx context.Context, acc models.Account, artifact []byte) (Conn, error)

// gotdConn runs a gotd client in the background on an in-memory session storage.
type gotdConn struct {
	client  *telegram.Client
	storage *session.StorageMemory
	apiID   int
	apiHash string

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
	once   sync.Once
}

// DialGotd is the production Dialer.
func DialGotd(ctx context.Context, acc models.Account, artifact []byte) (Conn, error) {
	if acc.APIID == 0 || acc.APIHash == "" {
		return nil, fmt.Errorf("%w: api credentials are missing", ErrInvalidCredentials)
	}

	storage := &session.StorageMemory{}
	if len(artifact) > 0 {
		if err := storage.StoreSession(ctx, artifact); err != nil {
			return nil, fmt.Errorf("seed session: %w", err)
		}
	}

	client := telegram.NewClient(acc.APIID, acc.APIHash, telegram.Options{
		SessionStorage: storage,
	})

	// The connection outlives the request that created it (a pending challenge waits for
	// the code), so it runs on its own context.
	runCtx, cancel := context.WithCancel(context.Background())
	c := &gotdConn{
		client:  client,
		storage: storage,
		apiID:   acc.APIID,
		apiHash: acc.APIHash,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		return c, nil
	case <-c.done:
		cancel()
		return nil, fmt.Errorf("connect: %w", c.runErr)
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

func (c *gotdConn) Authorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, classifyAuthError(err)
	}
	return status.Authorized, nil
}

func (c *gotdConn) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.client.API().AuthSendCode(ctx, &tg.AuthSendCodeRequest{
		PhoneNumber: phone,
		APIID:       c.apiID,
		APIHash:     c.apiHash,
		Settings:    tg.CodeSettings{},
	})
	if err != nil {
		return "", classifyAuthError(err)
	}

	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return s.PhoneCodeHash, nil
	case *tg.AuthSentCodeSuccess:
		return "", nil
	default:
		return "", fmt.Errorf("unexpected sent code type %T", sent)
	}
}

func (c *gotdConn) SignIn(ctx context.Context, phone, code, hash string) error {
	_, err := c.client.API().AuthSignIn(ctx, &tg.AuthSignInRequest{
		PhoneNumber:   phone,
		PhoneCodeHash: hash,
		PhoneCode:     code,
	})
	return classifyAuthError(err)
}

func (c *gotdConn) Password(ctx context.Context, password string) error {
	_, err := c.client.Auth().Password(ctx, password)
	return classifyAuthError(err)
}

func (c *gotdConn) Snapshot(ctx context.Context) ([]byte, error) {
	data, err := c.storage.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (c *gotdConn) API() *tg.Client {
	return c.client.API()
}

func (c *gotdConn) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
	if c.runErr != nil && !errors.Is(c.runErr, context.Canceled) {
		return c.runErr
	}
	return nil
}
