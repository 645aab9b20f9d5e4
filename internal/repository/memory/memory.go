// Package memory is an in-process persistence gateway.
//
// Transactions take a store-wide lock and keep an undo journal, so a callback
// that fails half way leaves no trace. It is used by tests and by the
// STORAGE_DRIVER=memory mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

type pairKey struct {
	eventID string
	userID  string
}

// Store keeps events and registrations in maps guarded by one mutex.
type Store struct {
	mu     sync.Mutex
	events map[string]model.Event
	regs   map[string]model.Registration
	byPair map[pairKey]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		events: make(map[string]model.Event),
		regs:   make(map[string]model.Registration),
		byPair: make(map[pairKey]string),
	}
}

type txKey struct{}

type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	if j != nil {
		j.undo = append(j.undo, fn)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// WithTx runs fn while holding the store lock. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*journal); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	if err := fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// lock acquires the store lock unless ctx already belongs to a transaction.
func (s *Store) lock(ctx context.Context) (*journal, func()) {
	if j, ok := ctx.Value(txKey{}).(*journal); ok {
		return j, func() {}
	}
	s.mu.Lock()
	return nil, s.mu.Unlock
}

func cloneEvent(e model.Event) model.Event {
	if e.Capacity != nil {
		capacity := *e.Capacity
		e.Capacity = &capacity
	}
	return e
}

func cloneRegistration(r model.Registration) model.Registration {
	if r.AttendedAt != nil {
		at := *r.AttendedAt
		r.AttendedAt = &at
	}
	return r
}

// CreateEvent stores a copy of event; the id must be new.
func (s *Store) CreateEvent(ctx context.Context, event model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j, unlock := s.lock(ctx)
	defer unlock()

	if _, exists := s.events[event.ID]; exists {
		return model.ErrInvalidInput
	}
	s.events[event.ID] = cloneEvent(event)
	j.record(func() { delete(s.events, event.ID) })
	return nil
}

// ListEvents returns copies of all events, newest first.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, unlock := s.lock(ctx)
	defer unlock()

	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, cloneEvent(e))
	}
	sort.Slice(events, func(i, k int) bool {
		if !events[i].CreatedAt.Equal(events[k].CreatedAt) {
			return events[i].CreatedAt.After(events[k].CreatedAt)
		}
		return events[i].ID < events[k].ID
	})
	return events, nil
}

// GetEvent returns a copy of the event with eventID.
func (s *Store) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	_, unlock := s.lock(ctx)
	defer unlock()

	e, ok := s.events[eventID]
	if !ok {
		return model.Event{}, model.ErrEventNotFound
	}
	return cloneEvent(e), nil
}

// GetEventForUpdate is GetEvent; the transaction lock already excludes other writers.
func (s *Store) GetEventForUpdate(ctx context.Context, eventID string) (model.Event, error) {
	return s.GetEvent(ctx, eventID)
}

// UpdateEventStatus sets the lifecycle status of eventID.
func (s *Store) UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus) error {
	if !status.Valid() {
		return model.ErrInvalidInput
	}
	j, unlock := s.lock(ctx)
	defer unlock()

	e, ok := s.events[eventID]
	if !ok {
		return model.ErrEventNotFound
	}
	prev := e.Status
	e.Status = status
	s.events[eventID] = e
	j.record(func() {
		e := s.events[eventID]
		e.Status = prev
		s.events[eventID] = e
	})
	return nil
}

// IncrementParticipantCount adds one participant unless the event is full.
func (s *Store) IncrementParticipantCount(ctx context.Context, eventID string) error {
	return s.adjustCount(ctx, eventID, 1)
}

// DecrementParticipantCount removes one participant, never going below zero.
func (s *Store) DecrementParticipantCount(ctx context.Context, eventID string) error {
	return s.adjustCount(ctx, eventID, -1)
}

func (s *Store) adjustCount(ctx context.Context, eventID string, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j, unlock := s.lock(ctx)
	defer unlock()

	e, ok := s.events[eventID]
	if !ok {
		return model.ErrEventNotFound
	}
	prev := e.ParticipantCount
	next := prev + delta
	if next < 0 {
		next = 0
	}
	if delta > 0 && e.Capacity != nil && next > *e.Capacity {
		return model.ErrCapacityExceeded
	}
	e.ParticipantCount = next
	s.events[eventID] = e
	j.record(func() {
		e := s.events[eventID]
		e.ParticipantCount = prev
		s.events[eventID] = e
	})
	return nil
}

// GetRegistration returns userID's registration for eventID.
func (s *Store) GetRegistration(ctx context.Context, eventID, userID string) (model.Registration, error) {
	if err := ctx.Err(); err != nil {
		return model.Registration{}, err
	}
	_, unlock := s.lock(ctx)
	defer unlock()

	id, ok := s.byPair[pairKey{eventID, userID}]
	if !ok {
		return model.Registration{}, model.ErrRegistrationNotFound
	}
	return cloneRegistration(s.regs[id]), nil
}

// CreateRegistration stores reg; one registration per user and event.
func (s *Store) CreateRegistration(ctx context.Context, reg model.Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j, unlock := s.lock(ctx)
	defer unlock()

	if _, ok := s.events[reg.EventID]; !ok {
		return model.ErrEventNotFound
	}
	key := pairKey{reg.EventID, reg.UserID}
	if _, exists := s.byPair[key]; exists {
		return model.ErrDuplicateRegistration
	}
	if _, exists := s.regs[reg.ID]; exists {
		return model.ErrDuplicateRegistration
	}
	s.regs[reg.ID] = cloneRegistration(reg)
	s.byPair[key] = reg.ID
	j.record(func() {
		delete(s.regs, reg.ID)
		delete(s.byPair, key)
	})
	return nil
}

// DeleteRegistration removes the registration with registrationID.
func (s *Store) DeleteRegistration(ctx context.Context, registrationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j, unlock := s.lock(ctx)
	defer unlock()

	reg, ok := s.regs[registrationID]
	if !ok {
		return model.ErrRegistrationNotFound
	}
	key := pairKey{reg.EventID, reg.UserID}
	delete(s.regs, registrationID)
	delete(s.byPair, key)
	j.record(func() {
		s.regs[registrationID] = reg
		s.byPair[key] = registrationID
	})
	return nil
}

// SetAttended marks the registration attended and reports whether it changed.
func (s *Store) SetAttended(ctx context.Context, registrationID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	j, unlock := s.lock(ctx)
	defer unlock()

	reg, ok := s.regs[registrationID]
	if !ok {
		return false, model.ErrRegistrationNotFound
	}
	if reg.Attended {
		return false, nil
	}
	prev := reg
	at = at.UTC()
	reg.Attended = true
	reg.AttendedAt = &at
	s.regs[registrationID] = reg
	j.record(func() { s.regs[registrationID] = prev })
	return true, nil
}

// ListRegistrations returns copies of eventID's registrations.
func (s *Store) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, unlock := s.lock(ctx)
	defer unlock()

	var regs []model.Registration
	for _, r := range s.regs {
		if r.EventID == eventID {
			regs = append(regs, cloneRegistration(r))
		}
	}
	sortRegistrations(regs)
	return regs, nil
}

// ListUserRegistrations returns userID's registrations with their events.
func (s *Store) ListUserRegistrations(ctx context.Context, userID string) ([]model.UserRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, unlock := s.lock(ctx)
	defer unlock()

	var regs []model.Registration
	for _, r := range s.regs {
		if r.UserID == userID {
			regs = append(regs, cloneRegistration(r))
		}
	}
	sortRegistrations(regs)

	out := make([]model.UserRegistration, 0, len(regs))
	for _, r := range regs {
		out = append(out, model.UserRegistration{
			Registration: r,
			Event:        cloneEvent(s.events[r.EventID]),
		})
	}
	return out, nil
}

func sortRegistrations(regs []model.Registration) {
	sort.Slice(regs, func(i, k int) bool {
		if !regs[i].CreatedAt.Equal(regs[k].CreatedAt) {
			return regs[i].CreatedAt.Before(regs[k].CreatedAt)
		}
		return regs[i].ID < regs[k].ID
	})
}
