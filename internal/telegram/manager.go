package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
)

// StateStore persists the connection state of accounts.
type StateStore interface {
	SetConnectionState(ctx context.Context, accountID int64, state models.ConnectionState) error
}

// sessionPathStore is implemented by state stores that also record where the artifact lives.
type sessionPathStore interface {
	SetSessionPath(ctx context.Context, accountID int64, path string) error
}

// ManagerOptions tunes the session manager.
type ManagerOptions struct {
	ChallengeTTL time.Duration // lifetime of a pending challenge
	GraceDelay   time.Duration // pause after releasing a replaced challenge connection
	RPS          float64       // API pacing of harvest sessions
	Burst        int
}

// DefaultManagerOptions returns the options used by the service.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ChallengeTTL: 3 * time.Minute,
		GraceDelay:   time.Second,
		RPS:          2.0,
		Burst:        1,
	}
}

// ConnectResult is the outcome of RequestConnection.
type ConnectResult struct {
	AlreadyConnected bool      `json:"already_connected"`
	ChallengeHash    string    `json:"phone_code_hash,omitempty"`
	NeedsPassword    bool      `json:"needs_password"`
	SentAt           time.Time `json:"sent_at,omitempty"`
}

// Manager owns per-account authentication state and session artifacts.
type Manager struct {
	artifacts  *ArtifactStore
	states     StateStore
	challenges *challengeRegistry
	opts       ManagerOptions
	log        *logger.Logger

	mu     sync.RWMutex
	dialer Dialer
	sleep  func(ctx context.Context, d time.Duration) error

	qrFactory  QRClientFactory
	qrMu       sync.Mutex
	qrInFlight map[string]context.CancelFunc
}

// NewManager creates a new session manager.
func NewManager(artifacts *ArtifactStore, states StateStore, opts ManagerOptions, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Get()
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = DefaultManagerOptions().ChallengeTTL
	}
	return &Manager{
		artifacts:  artifacts,
		states:     states,
		challenges: newChallengeRegistry(opts.ChallengeTTL),
		opts:       opts,
		log:        log,
		dialer:     DialGotd,
		sleep:      sleepCtx,
		qrFactory:  NewQRClient,
		qrInFlight: make(map[string]context.CancelFunc),
	}
}

// SetDialer allows overriding the connection logic (e.g. for testing).
func (m *Manager) SetDialer(d Dialer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialer = d
}

func (m *Manager) dial(ctx context.Context, acc models.Account, artifact []byte) (Conn, error) {
	m.mu.RLock()
	d := m.dialer
	m.mu.RUnlock()
	return d(ctx, acc, artifact)
}

// RequestConnection reuses the stored artifact when it is already authorized,
// otherwise issues a login code and keeps the connection as a pending challenge.
func (m *Manager) RequestConnection(ctx context.Context, acc models.Account) (*ConnectResult, error) {
	phone := acc.PhoneNumber
	log := m.log.With().Int64("account_id", acc.ID).Str("phone", phone).Logger()

	if m.challenges.Remove(phone) {
		log.Info().Dur("grace", m.opts.GraceDelay).Msg("telegram: replaced pending challenge, waiting for release")
		if err := m.sleep(ctx, m.opts.GraceDelay); err != nil {
			return nil, err
		}
	}

	artifact, err := m.artifacts.Load(acc)
	if err != nil {
		return nil, err
	}

	conn, err := m.dial(ctx, acc, artifact)
	if err != nil {
		m.setState(ctx, acc, models.StateDisconnected)
		return nil, fmt.Errorf("connect: %w", err)
	}

	if artifact != nil {
		authorized, err := conn.Authorized(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("telegram: stored session check failed, requesting a new code")
		}
		if authorized {
			_ = conn.Close()
			m.setState(ctx, acc, models.StateConnected)
			log.Info().Msg("telegram: account already connected")
			return &ConnectResult{AlreadyConnected: true}, nil
		}
	}

	hash, err := conn.SendCode(ctx, phone)
	if err != nil {
		_ = conn.Close()
		m.setState(ctx, acc, models.StateDisconnected)
		log.Error().Err(err).Msg("telegram: send code failed")
		return nil, err
	}
	if hash == "" {
		if err := m.completeLogin(ctx, acc, conn); err != nil {
			return nil, err
		}
		return &ConnectResult{AlreadyConnected: true}, nil
	}

	if prev := m.challenges.Put(phone, conn, hash); prev != nil {
		_ = prev.conn.Close()
	}
	m.setState(ctx, acc, models.StateCodeRequested)
	log.Info().Msg("telegram: login code sent")

	return &ConnectResult{
		ChallengeHash: hash,
		NeedsPassword: false,
		SentAt:        time.Now().UTC(),
	}, nil
}

// VerifyCode redeems a login code on the connection that issued it.
// Without a pending challenge it falls back to a fresh connection against the stored artifact.
func (m *Manager) VerifyCode(ctx context.Context, acc models.Account, code, hash, password string) error {
	phone := acc.PhoneNumber
	log := m.log.With().Int64("account_id", acc.ID).Str("phone", phone).Logger()

	pc, ok := m.challenges.Take(phone)
	if !ok {
		log.Warn().Msg("telegram: no pending challenge, verifying on a fresh connection")
		artifact, err := m.artifacts.Load(acc)
		if err != nil {
			return err
		}
		conn, err := m.dial(ctx, acc, artifact)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		now := m.challenges.now()
		pc = &pendingChallenge{conn: conn, hash: hash, issuedAt: now, expiresAt: now.Add(m.opts.ChallengeTTL)}
	}
	if hash == "" {
		hash = pc.hash
	}

	if !pc.awaitingPassword {
		err := pc.conn.SignIn(ctx, phone, code, hash)
		switch {
		case err == nil:
		case errors.Is(err, ErrPasswordRequired):
			pc.awaitingPassword = true
		default:
			var rl *RateLimitError
			if errors.As(err, &rl) {
				m.challenges.Restore(phone, pc)
				return err
			}
			_ = pc.conn.Close()
			if errors.Is(err, ErrInvalidCode) {
				m.setState(ctx, acc, models.StateCodeRequested)
			} else {
				m.setState(ctx, acc, models.StateDisconnected)
			}
			log.Warn().Err(err).Msg("telegram: sign in failed")
			return err
		}
	}

	if pc.awaitingPassword {
		if password == "" {
			m.challenges.Restore(phone, pc)
			log.Info().Msg("telegram: two-factor password required")
			return ErrPasswordRequired
		}
		if err := pc.conn.Password(ctx, password); err != nil {
			// a wrong password can be resubmitted on the same connection
			m.challenges.Restore(phone, pc)
			log.Warn().Err(err).Msg("telegram: password check failed")
			return err
		}
	}

	return m.completeLogin(ctx, acc, pc.conn)
}

// completeLogin persists the artifact of an authorized connection and releases it.
func (m *Manager) completeLogin(ctx context.Context, acc models.Account, conn Conn) error {
	defer func() { _ = conn.Close() }()

	data, err := conn.Snapshot(ctx)
	if err != nil {
		m.setState(ctx, acc, models.StateDisconnected)
		return fmt.Errorf("snapshot session: %w", err)
	}
	if err := m.saveArtifact(ctx, acc, data); err != nil {
		return err
	}
	m.log.Info().Int64("account_id", acc.ID).Msg("telegram: account connected")
	return nil
}

func (m *Manager) saveArtifact(ctx context.Context, acc models.Account, data []byte) error {
	if len(data) == 0 {
		m.setState(ctx, acc, models.StateDisconnected)
		return errors.New("empty session after login")
	}
	if err := m.artifacts.Save(acc, data); err != nil {
		m.setState(ctx, acc, models.StateDisconnected)
		return err
	}
	if ps, ok := m.states.(sessionPathStore); ok {
		if err := ps.SetSessionPath(ctx, acc.ID, m.artifacts.Path(acc)); err != nil {
			m.log.Warn().Err(err).Int64("account_id", acc.ID).Msg("telegram: failed to record session path")
		}
	}
	m.setState(ctx, acc, models.StateConnected)
	return nil
}

// CheckStatus reconnects with the stored artifact only. It never requests a code,
// and a failure demotes the account without deleting the artifact.
func (m *Manager) CheckStatus(ctx context.Context, acc models.Account) (bool, error) {
	artifact, err := m.artifacts.Load(acc)
	if err != nil {
		return false, err
	}
	if artifact == nil {
		m.setState(ctx, acc, models.StateDisconnected)
		return false, nil
	}

	conn, err := m.dial(ctx, acc, artifact)
	if err != nil {
		m.log.Warn().Err(err).Int64("account_id", acc.ID).Msg("telegram: status check could not connect")
		m.setState(ctx, acc, models.StateDisconnected)
		return false, nil
	}
	defer func() { _ = conn.Close() }()

	authorized, err := conn.Authorized(ctx)
	if err != nil {
		m.log.Warn().Err(err).Int64("account_id", acc.ID).Msg("telegram: status check failed")
		authorized = false
	}

	if authorized {
		m.setState(ctx, acc, models.StateConnected)
	} else {
		m.setState(ctx, acc, models.StateDisconnected)
	}
	return authorized, nil
}

// Open returns an authenticated session backed by the stored artifact.
func (m *Manager) Open(ctx context.Context, acc models.Account) (*Session, error) {
	artifact, err := m.artifacts.Load(acc)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, ErrNotAuthorized
	}

	conn, err := m.dial(ctx, acc, artifact)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	authorized, err := conn.Authorized(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("check authorization: %w", err)
	}
	if !authorized {
		_ = conn.Close()
		m.setState(ctx, acc, models.StateDisconnected)
		return nil, ErrNotAuthorized
	}

	return newSession(acc, conn, m.artifacts, NewRateLimiter(m.opts.RPS, m.opts.Burst), m.log), nil
}

// ListChats returns the group, supergroup and channel dialogs of an account.
func (m *Manager) ListChats(ctx context.Context, acc models.Account) ([]Dialog, error) {
	s, err := m.Open(ctx, acc)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()

	return s.Dialogs(ctx)
}

// Forget drops the artifact and any pending challenge of an account that is being removed.
func (m *Manager) Forget(_ context.Context, acc models.Account) error {
	m.challenges.Remove(acc.PhoneNumber)
	return m.artifacts.Delete(acc)
}

// HasPendingChallenge reports whether a code was issued for phone and not yet redeemed.
func (m *Manager) HasPendingChallenge(phone string) bool {
	return m.challenges.Has(phone)
}

// RunJanitor evicts expired challenges until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.challenges.Sweep(); n > 0 {
				m.log.Info().Int("expired", n).Msg("telegram: evicted expired challenges")
			}
		}
	}
}

// Stop releases all pending connections.
func (m *Manager) Stop() {
	m.challenges.CloseAll()
	m.CancelQR()
}

func (m *Manager) setState(ctx context.Context, acc models.Account, state models.ConnectionState) {
	if m.states == nil {
		return
	}
	if err := m.states.SetConnectionState(ctx, acc.ID, state); err != nil {
		m.log.Error().Err(err).Int64("account_id", acc.ID).Str("state", string(state)).Msg("telegram: failed to persist connection state")
	}
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
