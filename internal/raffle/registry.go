package raffle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-attendance/internal/clock"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 30 * time.Minute

// ErrSessionNotFound is returned for unknown, expired or foreign sessions.
var ErrSessionNotFound = errors.New("raffle session not found")

type entry struct {
	session  *Session
	owner    string
	lastUsed time.Time
}

// Registry keeps the open sessions of all admin clients.
type Registry struct {
	ttl   time.Duration
	clock clock.Clock
	opts  []Option
	newID func() string

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry builds a registry whose sessions are created with opts.
func NewRegistry(ttl time.Duration, clk clock.Clock, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Registry{
		ttl:      ttl,
		clock:    clk,
		opts:     opts,
		newID:    uuid.NewString,
		sessions: make(map[string]*entry),
	}
}

// Open starts a session for eventID owned by owner.
func (r *Registry) Open(eventID, owner string) (string, *Session) {
	session := NewSession(eventID, r.opts...)
	id := r.newID()

	r.mu.Lock()
	r.sessions[id] = &entry{session: session, owner: owner, lastUsed: r.clock.Now()}
	r.mu.Unlock()
	return id, session
}

// Get returns the session id if owner opened it, and marks it used.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return nil, ErrSessionNotFound
	}
	e.lastUsed = r.clock.Now()
	return e.session, nil
}

// Close drops owner's session id.
func (r *Registry) Close(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// Sweep drops sessions idle for longer than the TTL and reports how many went.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run sweeps on every tick until ctx is done. When onSweep is non-nil it is
// called after each sweep that expired at least one session.
func (r *Registry) Run(ctx context.Context, every time.Duration, onSweep func(expired, open int)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.clock.Now()); n > 0 && onSweep != nil {
				onSweep(n, r.Len())
			}
		}
	}
}
