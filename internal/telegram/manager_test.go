package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
)

type managerFixture struct {
	m      *Manager
	dialer *fakeDialer
	states *fakeStates
	store  *ArtifactStore
	slept  []time.Duration
	acc    models.Account
}

func newManagerFixture(t *testing.T, conns ...*fakeConn) *managerFixture {
	t.Helper()

	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	f := &managerFixture{
		dialer: &fakeDialer{conns: conns},
		states: &fakeStates{},
		store:  store,
		acc:    models.Account{ID: 1, APIID: 1, APIHash: "hash", PhoneNumber: "+15550001111"},
	}
	opts := DefaultManagerOptions()
	f.m = NewManager(store, f.states, opts, logger.Nop())
	f.m.SetDialer(f.dialer.Dial)
	f.m.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func TestManager_RequestConnection_AlreadyConnected(t *testing.T) {
	conn := &fakeConn{authorized: true}
	f := newManagerFixture(t, conn)
	require.NoError(t, f.store.Save(f.acc, []byte("stored")))

	res, err := f.m.RequestConnection(context.Background(), f.acc)
	require.NoError(t, err)

	assert.True(t, res.AlreadyConnected)
	assert.Empty(t, res.ChallengeHash)
	assert.True(t, conn.isClosed())
	assert.Equal(t, []byte("stored"), f.dialer.artifacts[0])
	assert.Equal(t, models.StateConnected, f.states.last(f.acc.ID))
	assert.False(t, f.m.HasPendingChallenge(f.acc.PhoneNumber))
}

func TestManager_RequestConnection_IssuesChallenge(t *testing.T) {
	conn := &fakeConn{sendHash: "hash-1"}
	f := newManagerFixture(t, conn)

	res, err := f.m.RequestConnection(context.Background(), f.acc)
	require.NoError(t, err)

	assert.False(t, res.AlreadyConnected)
	assert.Equal(t, "hash-1", res.ChallengeHash)
	assert.False(t, res.NeedsPassword)
	assert.False(t, conn.isClosed(), "challenge connection stays open")
	assert.Nil(t, f.dialer.artifacts[0])
	assert.True(t, f.m.HasPendingChallenge(f.acc.PhoneNumber))
	assert.Equal(t, models.StateCodeRequested, f.states.last(f.acc.ID))
}

func TestManager_RequestConnection_ReplacesPendingChallenge(t *testing.T) {
	first := &fakeConn{sendHash: "hash-1"}
	second := &fakeConn{sendHash: "hash-2"}
	f := newManagerFixture(t, first, second)
	ctx := context.Background()

	_, err := f.m.RequestConnection(ctx, f.acc)
	require.NoError(t, err)
	res, err := f.m.RequestConnection(ctx, f.acc)
	require.NoError(t, err)

	assert.Equal(t, "hash-2", res.ChallengeHash)
	assert.True(t, first.isClosed(), "stale challenge released")
	assert.False(t, second.isClosed())
	assert.Equal(t, []time.Duration{time.Second}, f.slept)
	assert.Equal(t, 1, f.m.challenges.Len())

	require.NoError(t, f.m.VerifyCode(ctx, f.acc, "12345", "", ""))
	assert.Equal(t, 0, first.signIns)
	assert.Equal(t, 1, second.signIns)
}

func TestManager_RequestConnection_SendCodeFails(t *testing.T) {
	conn := &fakeConn{sendErr: fmt.Errorf("%w: PHONE_NUMBER_INVALID", ErrInvalidCredentials)}
	f := newManagerFixture(t, conn)

	_, err := f.m.RequestConnection(context.Background(), f.acc)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, conn.isClosed())
	assert.Equal(t, models.StateDisconnected, f.states.last(f.acc.ID))
}

func TestManager_VerifyCode_UsesChallengeConnection(t *testing.T) {
	conn := &fakeConn{sendHash: "hash-1", snapshot: []byte("fresh-session")}
	f := newManagerFixture(t, conn)
	ctx := context.Background()

	_, err := f.m.RequestConnection(ctx, f.acc)
	require.NoError(t, err)
	require.NoError(t, f.m.VerifyCode(ctx, f.acc, "12345", "hash-1", ""))

	assert.Equal(t, 1, f.dialer.dials(), "no second connection")
	assert.Equal(t, 1, conn.signIns)
	assert.True(t, conn.isClosed())
	assert.False(t, f.m.HasPendingChallenge(f.acc.PhoneNumber))
	assert.Equal(t, models.StateConnected, f.states.last(f.acc.ID))

	data, err := f.store.Load(f.acc)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh-session"), data)
	assert.Equal(t, f.store.Path(f.acc), f.states.path(f.acc.ID))
}

func TestManager_VerifyCode_PasswordRequired(t *testing.T) {
	conn := &fakeConn{sendHash: "hash-1", signInErr: ErrPasswordRequired, snapshot: []byte("s")}
	f := newManagerFixture(t, conn)
	ctx := context.Background()

	_, err := f.m.RequestConnection(ctx, f.acc)
	require.NoError(t, err)

	err = f.m.VerifyCode(ctx, f.acc, "12345", "hash-1", "")
	require.ErrorIs(t, err, ErrPasswordRequired)
	assert.True(t, f.m.HasPendingChallenge(f.acc.PhoneNumber), "challenge kept for resubmission")
	assert.False(t, conn.isClosed())

	require.NoError(t, f.m.VerifyCode(ctx, f.acc, "12345", "hash-1", "secret"))
	assert.Equal(t, 1, conn.signIns, "code is not redeemed twice")
	assert.Equal(t, []string{"secret"}, conn.passwords)
	assert.Equal(t, models.StateConnected, f.states.last(f.acc.ID))
	assert.True(t, f.store.Exists(f.acc))
}

func TestManager_VerifyCode_WrongPasswordKeepsChallenge(t *testing.T) {
	conn := &fakeConn{sendHash: "h", signInErr: ErrPasswordRequired, passwordErr: ErrInvalidCredentials}
	f := newManagerFixture(t, conn)
	ctx := context.Background()

	_, err := f.m.RequestConnection(ctx, f.acc)
	require.NoError(t, err)

	err = f.m.VerifyCode(ctx, f.acc, "1", "h", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, f.m.HasPendingChallenge(f.acc.PhoneNumber))
	assert.False(t, f.store.Exists(f.acc))
}

func TestManager_VerifyCode_BadCodes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantState models.ConnectionState
	}{
		{name: "invalid", err: fmt.Errorf("%w: PHONE_CODE_INVALID", ErrInvalidCode), wantState: models.StateCodeRequested},
		{name: "expired", err: fmt.Errorf("%w: PHONE_CODE_EXPIRED", ErrExpiredCode), wantState: models.StateDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{sendHash: "h", signInErr: tt.err}
			f := newManagerFixture(t, conn)
			ctx := context.Background()
			require.NoError(t, f.store.Save(f.acc, []byte("old")))

			_, err := f.m.RequestConnection(ctx, f.acc)
			require.NoError(t, err)

			err = f.m.VerifyCode(ctx, f.acc, "000", "h", "")
			require.ErrorIs(t, err, tt.err)
			assert.True(t, conn.isClosed(), "connection released")
			assert.False(t, f.m.HasPendingChallenge(f.acc.PhoneNumber))
			assert.Equal(t, tt.wantState, f.states.last(f.acc.ID))
			assert.True(t, f.store.Exists(f.acc), "artifact is never deleted on failure")
		})
	}
}

func TestManager_VerifyCode_NoChallengeFallsBackToFreshConnection(t *testing.T) {
	fresh := &fakeConn{signInErr: fmt.Errorf("%w: PHONE_CODE_EXPIRED", ErrExpiredCode)}
	f := newManagerFixture(t, fresh)
	require.NoError(t, f.store.Save(f.acc, []byte("stored")))

	err := f.m.VerifyCode(context.Background(), f.acc, "1", "h", "")
	require.ErrorIs(t, err, ErrExpiredCode)
	assert.Equal(t, 1, f.dialer.dials())
	assert.Equal(t, []byte("stored"), f.dialer.artifacts[0])
	assert.True(t, fresh.isClosed())
}

func TestManager_CheckStatus(t *testing.T) {
	t.Run("no artifact", func(t *testing.T) {
		f := newManagerFixture(t)
		ok, err := f.m.CheckStatus(context.Background(), f.acc)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, f.dialer.dials(), "never dials without an artifact")
		assert.Equal(t, models.StateDisconnected, f.states.last(f.acc.ID))
	})

	t.Run("authorized", func(t *testing.T) {
		conn := &fakeConn{authorized: true}
		f := newManagerFixture(t, conn)
		require.NoError(t, f.store.Save(f.acc, []byte("stored")))

		ok, err := f.m.CheckStatus(context.Background(), f.acc)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, conn.isClosed())
		assert.Equal(t, models.StateConnected, f.states.last(f.acc.ID))
	})

	t.Run("revoked keeps artifact", func(t *testing.T) {
		conn := &fakeConn{authorized: false}
		f := newManagerFixture(t, conn)
		require.NoError(t, f.store.Save(f.acc, []byte("stored")))

		ok, err := f.m.CheckStatus(context.Background(), f.acc)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, f.store.Exists(f.acc))
		assert.Equal(t, models.StateDisconnected, f.states.last(f.acc.ID))
		assert.False(t, f.m.HasPendingChallenge(f.acc.PhoneNumber), "no code is requested")
	})

	t.Run("transport failure", func(t *testing.T) {
		f := newManagerFixture(t)
		f.dialer.err = errors.New("dial tcp: timeout")
		require.NoError(t, f.store.Save(f.acc, []byte("stored")))

		ok, err := f.m.CheckStatus(context.Background(), f.acc)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, f.store.Exists(f.acc))
		assert.Equal(t, models.StateDisconnected, f.states.last(f.acc.ID))
	})
}

func TestManager_Open(t *testing.T) {
	t.Run("without artifact", func(t *testing.T) {
		f := newManagerFixture(t)
		_, err := f.m.Open(context.Background(), f.acc)
		require.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("revoked session", func(t *testing.T) {
		conn := &fakeConn{}
		f := newManagerFixture(t, conn)
		require.NoError(t, f.store.Save(f.acc, []byte("stored")))

		_, err := f.m.Open(context.Background(), f.acc)
		require.ErrorIs(t, err, ErrNotAuthorized)
		assert.True(t, conn.isClosed())
		assert.Equal(t, models.StateDisconnected, f.states.last(f.acc.ID))
	})

	t.Run("close refreshes artifact", func(t *testing.T) {
		conn := &fakeConn{authorized: true, snapshot: []byte("refreshed")}
		f := newManagerFixture(t, conn)
		require.NoError(t, f.store.Save(f.acc, []byte("stored")))

		s, err := f.m.Open(context.Background(), f.acc)
		require.NoError(t, err)
		assert.Equal(t, f.acc.ID, s.Account().ID)
		require.NoError(t, s.Close())

		data, err := f.store.Load(f.acc)
		require.NoError(t, err)
		assert.Equal(t, []byte("refreshed"), data)
		assert.True(t, conn.isClosed())
	})
}

func TestManager_Forget(t *testing.T) {
	conn := &fakeConn{sendHash: "h"}
	f := newManagerFixture(t, conn)
	require.NoError(t, f.store.Save(f.acc, []byte("stored")))

	_, err := f.m.RequestConnection(context.Background(), f.acc)
	require.NoError(t, err)

	require.NoError(t, f.m.Forget(context.Background(), f.acc))
	assert.False(t, f.store.Exists(f.acc))
	assert.False(t, f.m.HasPendingChallenge(f.acc.PhoneNumber))
	assert.True(t, conn.isClosed())
}

func TestManager_LoginQR_FactoryError(t *testing.T) {
	f := newManagerFixture(t)
	f.m.SetQRClientFactory(func(models.Account) (*QRClientBundle, error) {
		return nil, errors.New("factory reached")
	})

	var got string
	err := f.m.LoginQR(context.Background(), f.acc, func(url string) { got = url })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory reached")
	assert.Empty(t, got)
}

func TestManager_LoginQR_RejectsConcurrentLogin(t *testing.T) {
	f := newManagerFixture(t)
	f.m.qrInFlight[f.acc.SessionKey()] = func() {}
	assert.True(t, f.m.QRInProgress(f.acc))

	err := f.m.LoginQR(context.Background(), f.acc, func(string) {})
	require.ErrorIs(t, err, ErrQRInProgress)

	f.m.CancelQR()
	assert.Empty(t, f.m.qrInFlight)
	assert.False(t, f.m.QRInProgress(f.acc))
}

func TestManager_StopReleasesChallenges(t *testing.T) {
	conn := &fakeConn{sendHash: "h"}
	f := newManagerFixture(t, conn)

	_, err := f.m.RequestConnection(context.Background(), f.acc)
	require.NoError(t, err)

	f.m.Stop()
	assert.True(t, conn.isClosed())
	assert.False(t, f.m.HasPendingChallenge(f.acc.PhoneNumber))
}
