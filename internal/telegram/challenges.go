package telegram

import (
	"sync"
	"time"
)

// pendingChallenge is a login code issued on a live connection that is not yet redeemed.
type pendingChallenge struct {
	conn             Conn
	hash             string
	issuedAt         time.Time
	expiresAt        time.Time
	awaitingPassword bool
}

// challengeRegistry holds at most one pending challenge per phone.
// Expired entries are evicted, and their connections closed, on access and on Sweep.
type challengeRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*pendingChallenge
}

func newChallengeRegistry(ttl time.Duration) *challengeRegistry {
	return &challengeRegistry{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*pendingChallenge),
	}
}

// Put stores a challenge for phone and returns the entry it replaced, if any.
// The caller owns the replaced entry's connection.
func (r *challengeRegistry) Put(phone string, conn Conn, hash string) *pendingChallenge {
	now := r.now()
	pc := &pendingChallenge{
		conn:      conn,
		hash:      hash,
		issuedAt:  now,
		expiresAt: now.Add(r.ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[phone]
	r.entries[phone] = pc
	return prev
}

// Restore puts back an entry taken with Take, keeping its original expiry.
func (r *challengeRegistry) Restore(phone string, pc *pendingChallenge) {
	r.mu.Lock()
	prev := r.entries[phone]
	r.entries[phone] = pc
	r.mu.Unlock()

	if prev != nil && prev != pc {
		_ = prev.conn.Close()
	}
}

// Take removes and returns the live challenge for phone.
// An expired entry is closed and reported as absent.
func (r *challengeRegistry) Take(phone string) (*pendingChallenge, bool) {
	r.mu.Lock()
	pc, ok := r.entries[phone]
	if ok {
		delete(r.entries, phone)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	if !r.now().Before(pc.expiresAt) {
		_ = pc.conn.Close()
		return nil, false
	}
	return pc, true
}

// Has reports whether a live challenge exists for phone.
func (r *challengeRegistry) Has(phone string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.entries[phone]
	return ok && r.now().Before(pc.expiresAt)
}

// Remove drops and closes the challenge for phone and reports whether one existed.
func (r *challengeRegistry) Remove(phone string) bool {
	r.mu.Lock()
	pc, ok := r.entries[phone]
	delete(r.entries, phone)
	r.mu.Unlock()

	if ok {
		_ = pc.conn.Close()
	}
	return ok
}

// Sweep evicts expired challenges and returns how many were removed.
func (r *challengeRegistry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var expired []*pendingChallenge
	for phone, pc := range r.entries {
		if !now.Before(pc.expiresAt) {
			expired = append(expired, pc)
			delete(r.entries, phone)
		}
	}
	r.mu.Unlock()

	for _, pc := range expired {
		_ = pc.conn.Close()
	}
	return len(expired)
}

// Len returns the number of stored challenges, expired ones included.
func (r *challengeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll releases every pending connection.
func (r *challengeRegistry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*pendingChallenge)
	r.mu.Unlock()

	for _, pc := range entries {
		_ = pc.conn.Close()
	}
}
