package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-harvester/internal/models"
)

// QRClientBundle contains all components needed for QR authentication.
type QRClientBundle struct {
	Client     *telegram.Client
	Dispatcher *tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

// QRClientFactory creates a raw client for QR authentication.
type QRClientFactory func(acc models.Account) (*QRClientBundle, error)

// NewQRClient creates a raw td/telegram client suitable for QR authentication.
func NewQRClient(acc models.Account) (*QRClientBundle, error) {
	if acc.APIID == 0 || acc.APIHash == "" {
		return nil, fmt.Errorf("%w: api credentials are missing", ErrInvalidCredentials)
	}

	storage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(acc.APIID, acc.APIHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  dispatcher,
	})

	return &QRClientBundle{
		Client:     client,
		Dispatcher: &dispatcher,
		Storage:    storage,
	}, nil
}

// ErrQRInProgress is returned when a QR login is already running for the account.
var ErrQRInProgress = errors.New("qr login already in progress")

// LoginQR authorizes an account by QR code. It blocks until the code is accepted
// or ctx is canceled, calling onToken for every new login URL.
func (m *Manager) LoginQR(ctx context.Context, acc models.Account, onToken func(url string)) error {
	key := acc.SessionKey()

	m.qrMu.Lock()
	if _, busy := m.qrInFlight[key]; busy {
		m.qrMu.Unlock()
		return ErrQRInProgress
	}
	qrCtx, cancel := context.WithCancel(ctx)
	m.qrInFlight[key] = cancel
	m.qrMu.Unlock()

	defer func() {
		cancel()
		m.qrMu.Lock()
		delete(m.qrInFlight, key)
		m.qrMu.Unlock()
	}()

	m.mu.RLock()
	factory := m.qrFactory
	m.mu.RUnlock()

	bundle, err := factory(acc)
	if err != nil {
		return fmt.Errorf("create qr client: %w", err)
	}

	var artifact []byte
	err = bundle.Client.Run(qrCtx, func(ctx context.Context) error {
		loggedIn := qrlogin.OnLoginToken(bundle.Dispatcher)
		_, err := bundle.Client.QR().Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			m.log.Info().Int64("account_id", acc.ID).Msg("telegram: qr token generated")
			onToken(token.URL())
			return nil
		})
		if err != nil {
			return classifyAuthError(err)
		}
		artifact, err = bundle.Storage.LoadSession(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("qr login: %w", err)
	}

	if err := m.saveArtifact(ctx, acc, artifact); err != nil {
		return err
	}
	m.log.Info().Int64("account_id", acc.ID).Msg("telegram: account connected by qr")
	return nil
}

// QRInProgress reports whether a QR login is running for the account.
func (m *Manager) QRInProgress(acc models.Account) bool {
	m.qrMu.Lock()
	defer m.qrMu.Unlock()
	_, busy := m.qrInFlight[acc.SessionKey()]
	return busy
}

// CancelQR cancels every QR login in progress.
func (m *Manager) CancelQR() {
	m.qrMu.Lock()
	defer m.qrMu.Unlock()
	for key, cancel := range m.qrInFlight {
		cancel()
		delete(m.qrInFlight, key)
	}
}

// SetQRClientFactory allows overriding QR client creation (e.g. for testing).
func (m *Manager) SetQRClientFactory(f QRClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrFactory = f
}
