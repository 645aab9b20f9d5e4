// Package raffle draws winners from an event's registrations. A Session
// remembers who has already won, so nobody is drawn twice until Reset.
package raffle

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

// DefaultSpins is the number of reveal frames shown before the winner.
const DefaultSpins = 20

// Spin is one reveal frame.
type Spin struct {
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Candidate string `json:"candidate"`
}

// Result is a committed draw.
type Result struct {
	Winner model.Registration `json:"winner"`
	Spins  []string           `json:"spins"`
	// Remaining is how many registrations can still be drawn after this one.
	Remaining int `json:"remaining"`
}

// Option configures a Session.
type Option func(*Session)

// WithSpins sets how many reveal frames precede the winner. Zero disables the reveal.
func WithSpins(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.spins = n
		}
	}
}

// WithSpinInterval paces the reveal. Zero draws all frames immediately.
func WithSpinInterval(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithObserver is called with every reveal frame as it is drawn.
func WithObserver(fn func(Spin)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// WithSource replaces the random source.
func WithSource(src rand.Source) Option {
	return func(s *Session) {
		if src != nil {
			s.rng = rand.New(src)
		}
	}
}

// Session is one admin's raffle over one event. Safe for concurrent use;
// draws are serialized.
type Session struct {
	eventID  string
	spins    int
	interval time.Duration
	observer func(Spin)

	drawMu sync.Mutex
	rng    *rand.Rand

	mu        sync.Mutex
	drawn     map[string]struct{}
	order     []string
	candidate string
}

// NewSession starts an empty session for eventID.
func NewSession(eventID string, opts ...Option) *Session {
	s := &Session{
		eventID: eventID,
		spins:   DefaultSpins,
		drawn:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(newSeededPCG())
	}
	return s
}

func newSeededPCG() *rand.PCG {
	var seed [16]byte
	// Read never returns an error since Go 1.24.
	_, _ = crand.Read(seed[:])
	return rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
}

// EventID returns the event this session draws from.
func (s *Session) EventID() string {
	return s.eventID
}

// Draw picks a winner uniformly among registrations in pool that have not
// won yet in this session. The reveal frames are independent samples; the
// winner is a fresh sample taken after them. If ctx ends during the reveal
// nothing is committed.
func (s *Session) Draw(ctx context.Context, pool []model.Registration) (Result, error) {
	s.drawMu.Lock()
	defer s.drawMu.Unlock()

	eligible := s.eligible(pool)
	if len(eligible) == 0 {
		return Result{}, model.ErrNoEligibleParticipants
	}

	var timer *time.Timer
	if s.interval > 0 {
		timer = time.NewTimer(s.interval)
		defer timer.Stop()
	}

	spins := make([]string, 0, s.spins)
	for i := range s.spins {
		candidate := eligible[s.rng.IntN(len(eligible))].UserID
		spins = append(spins, candidate)
		s.setCandidate(candidate)
		if s.observer != nil {
			s.observer(Spin{Index: i + 1, Total: s.spins, Candidate: candidate})
		}
		if timer != nil {
			select {
			case <-ctx.Done():
				s.setCandidate("")
				return Result{}, ctx.Err()
			case <-timer.C:
				timer.Reset(s.interval)
			}
		} else if err := ctx.Err(); err != nil {
			s.setCandidate("")
			return Result{}, err
		}
	}

	winner := eligible[s.rng.IntN(len(eligible))]

	s.mu.Lock()
	s.drawn[winner.UserID] = struct{}{}
	s.order = append(s.order, winner.UserID)
	s.candidate = winner.UserID
	s.mu.Unlock()

	return Result{Winner: winner, Spins: spins, Remaining: len(eligible) - 1}, nil
}

// eligible returns pool minus already drawn users, one entry per user.
func (s *Session) eligible(pool []model.Registration) []model.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(pool))
	out := make([]model.Registration, 0, len(pool))
	for _, reg := range pool {
		if reg.UserID == "" {
			continue
		}
		if _, done := s.drawn[reg.UserID]; done {
			continue
		}
		if _, dup := seen[reg.UserID]; dup {
			continue
		}
		seen[reg.UserID] = struct{}{}
		out = append(out, reg)
	}
	return out
}

func (s *Session) setCandidate(userID string) {
	s.mu.Lock()
	s.candidate = userID
	s.mu.Unlock()
}

// Reset forgets previous winners. Registrations are not touched.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.drawn)
	s.order = nil
	s.candidate = ""
}

// Drawn returns the winners so far, in draw order.
func (s *Session) Drawn() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Candidate returns the user currently shown by the reveal, or the last winner.
func (s *Session) Candidate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidate
}
