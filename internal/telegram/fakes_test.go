package telegram

import (
	"context"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-harvester/internal/models"
)

type fakeConn struct {
	mu sync.Mutex

	authorized  bool
	authErr     error
	sendHash    string
	sendErr     error
	signInErr   error
	passwordErr error
	snapshot    []byte

	signIns   int
	passwords []string
	closed    bool
}

func (c *fakeConn) Authorized(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized, c.authErr
}

func (c *fakeConn) SendCode(context.Context, string) (string, error) {
	return c.sendHash, c.sendErr
}

func (c *fakeConn) SignIn(context.Context, string, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signIns++
	if c.signInErr == nil {
		c.authorized = true
	}
	return c.signInErr
}

func (c *fakeConn) Password(_ context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passwords = append(c.passwords, password)
	if c.passwordErr == nil {
		c.authorized = true
	}
	return c.passwordErr
}

func (c *fakeConn) Snapshot(context.Context) ([]byte, error) {
	return c.snapshot, nil
}

func (c *fakeConn) API() *tg.Client { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out the queued connections in order and records the artifacts it was given.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	artifacts [][]byte
	err       error
}

func (d *fakeDialer) Dial(_ context.Context, _ models.Account, artifact []byte) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.artifacts = append(d.artifacts, artifact)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return &fakeConn{}, nil
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.artifacts)
}

type fakeStates struct {
	mu     sync.Mutex
	states map[int64][]models.ConnectionState
	paths  map[int64]string
}

func (s *fakeStates) SetSessionPath(_ context.Context, id int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paths == nil {
		s.paths = make(map[int64]string)
	}
	s.paths[id] = path
	return nil
}

func (s *fakeStates) path(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[id]
}

func (s *fakeStates) SetConnectionState(_ context.Context, id int64, state models.ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[int64][]models.ConnectionState)
	}
	s.states[id] = append(s.states[id], state)
	return nil
}

func (s *fakeStates) last(id int64) models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.states[id]
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1]
}
