package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(ttl time.Duration) (*challengeRegistry, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newChallengeRegistry(ttl)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestChallengeRegistry_OnePerPhone(t *testing.T) {
	r, _ := newTestRegistry(3 * time.Minute)

	first := &fakeConn{}
	second := &fakeConn{}

	assert.Nil(t, r.Put("+100", first, "h1"))
	prev := r.Put("+100", second, "h2")
	require.NotNil(t, prev)
	assert.Same(t, first, prev.conn)
	assert.Equal(t, 1, r.Len())

	pc, ok := r.Take("+100")
	require.True(t, ok)
	assert.Equal(t, "h2", pc.hash)
	assert.Same(t, second, pc.conn)

	_, ok = r.Take("+100")
	assert.False(t, ok, "a challenge is consumed once")
}

func TestChallengeRegistry_TakeExpiredClosesConnection(t *testing.T) {
	r, now := newTestRegistry(3 * time.Minute)
	conn := &fakeConn{}
	r.Put("+100", conn, "h")

	*now = now.Add(3 * time.Minute)

	assert.False(t, r.Has("+100"))
	_, ok := r.Take("+100")
	assert.False(t, ok)
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, r.Len())
}

func TestChallengeRegistry_Sweep(t *testing.T) {
	r, now := newTestRegistry(time.Minute)
	old := &fakeConn{}
	r.Put("+1", old, "a")

	*now = now.Add(45 * time.Second)
	fresh := &fakeConn{}
	r.Put("+2", fresh, "b")

	*now = now.Add(30 * time.Second)
	assert.Equal(t, 1, r.Sweep())
	assert.True(t, old.isClosed())
	assert.False(t, fresh.isClosed())
	assert.True(t, r.Has("+2"))
}

func TestChallengeRegistry_RestoreKeepsExpiry(t *testing.T) {
	r, now := newTestRegistry(time.Minute)
	conn := &fakeConn{}
	r.Put("+1", conn, "a")

	pc, ok := r.Take("+1")
	require.True(t, ok)
	pc.awaitingPassword = true
	r.Restore("+1", pc)

	*now = now.Add(59 * time.Second)
	got, ok := r.Take("+1")
	require.True(t, ok)
	assert.True(t, got.awaitingPassword)
	assert.False(t, conn.isClosed())
}

func TestChallengeRegistry_RemoveAndCloseAll(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)
	a, b := &fakeConn{}, &fakeConn{}
	r.Put("+1", a, "a")
	r.Put("+2", b, "b")

	assert.True(t, r.Remove("+1"))
	assert.False(t, r.Remove("+1"))
	assert.True(t, a.isClosed())

	r.CloseAll()
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, r.Len())
}
