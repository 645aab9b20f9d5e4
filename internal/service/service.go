// Package service implements the registration admission controller, the
// event lifecycle and the attendance confirmation step on top of a
// persistence gateway.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-attendance/internal/clock"
	"github.com/Shivanand-hulikatti/event-attendance/internal/eligibility"
	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
	"github.com/Shivanand-hulikatti/event-attendance/internal/token"
)

// Gateway is the durable store for events and registrations.
//
// Methods called with the context handed to WithTx's callback run inside that
// transaction. GetEventForUpdate must serialize concurrent transactions on the
// same event row until commit or rollback.
type Gateway interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateEvent(ctx context.Context, event model.Event) error
	ListEvents(ctx context.Context) ([]model.Event, error)
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	GetEventForUpdate(ctx context.Context, eventID string) (model.Event, error)
	UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus) error
	IncrementParticipantCount(ctx context.Context, eventID string) error
	DecrementParticipantCount(ctx context.Context, eventID string) error

	GetRegistration(ctx context.Context, eventID, userID string) (model.Registration, error)
	CreateRegistration(ctx context.Context, reg model.Registration) error
	DeleteRegistration(ctx context.Context, registrationID string) error
	SetAttended(ctx context.Context, registrationID string, at time.Time) (bool, error)
	ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error)
	ListUserRegistrations(ctx context.Context, userID string) ([]model.UserRegistration, error)
}

const maxCapacity = 100_000

// EventService orchestrates event-related business operations.
type EventService struct {
	store  Gateway
	tokens token.Codec
	clock  clock.Clock
	newID  func() string
}

// Option configures an EventService.
type Option func(*EventService)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *EventService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTokenCodec overrides how attendance tokens are issued and verified.
func WithTokenCodec(c token.Codec) Option {
	return func(s *EventService) {
		if c != nil {
			s.tokens = c
		}
	}
}

// WithIDGenerator overrides id generation for new records.
func WithIDGenerator(fn func() string) Option {
	return func(s *EventService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store Gateway, opts ...Option) *EventService {
	s := &EventService{
		store:  store,
		tokens: token.Plain{},
		clock:  clock.NewSystem(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the service clock's current time.
func (s *EventService) Now() time.Time { return s.clock.Now() }

// CreateEvent validates the request and persists an active event.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return model.Event{}, fmt.Errorf("event name is required: %w", model.ErrInvalidInput)
	}
	if req.Capacity != nil {
		if *req.Capacity <= 0 {
			return model.Event{}, fmt.Errorf("capacity must be a positive integer: %w", model.ErrInvalidInput)
		}
		if *req.Capacity > maxCapacity {
			return model.Event{}, fmt.Errorf("capacity cannot exceed 100,000: %w", model.ErrInvalidInput)
		}
	}
	if req.StartsAt.IsZero() {
		return model.Event{}, fmt.Errorf("starts_at is required: %w", model.ErrInvalidInput)
	}
	if req.WorkloadHours < 0 {
		return model.Event{}, fmt.Errorf("workload_hours cannot be negative: %w", model.ErrInvalidInput)
	}

	event := model.Event{
		ID:            s.newID(),
		Name:          req.Name,
		Description:   strings.TrimSpace(req.Description),
		Status:        model.EventStatusActive,
		StartsAt:      req.StartsAt.UTC(),
		WorkloadHours: req.WorkloadHours,
		CreatedAt:     s.clock.Now(),
	}
	if req.Capacity != nil {
		capacity := *req.Capacity
		event.Capacity = &capacity
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (model.Event, error) {
	if id == "" {
		return model.Event{}, fmt.Errorf("event id is required: %w", model.ErrInvalidInput)
	}
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrEventNotFound) {
			return model.Event{}, model.ErrEventNotFound
		}
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// FinishEvent moves an active event to finished. No further registrations are admitted.
func (s *EventService) FinishEvent(ctx context.Context, id string) (model.Event, error) {
	return s.transition(ctx, id, model.EventStatusFinished)
}

// CancelEvent moves an active event to cancelled.
func (s *EventService) CancelEvent(ctx context.Context, id string) (model.Event, error) {
	return s.transition(ctx, id, model.EventStatusCancelled)
}

func (s *EventService) transition(ctx context.Context, id string, to model.EventStatus) (model.Event, error) {
	var event model.Event
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.GetEventForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if current.Status != model.EventStatusActive {
			return fmt.Errorf("%s -> %s: %w", current.Status, to, model.ErrInvalidTransition)
		}
		if err := s.store.UpdateEventStatus(txCtx, id, to); err != nil {
			return err
		}
		current.Status = to
		event = current
		return nil
	})
	if err != nil {
		return model.Event{}, surface("transition event", err)
	}
	return event, nil
}

// Register admits userID into eventID.
//
// The event row is locked for the whole check-then-write sequence, so two
// callers racing for the last place are serialized: the second one sees the
// incremented count and gets ErrCapacityExceeded. Retrying after a transient
// failure re-reads everything; nothing from the failed attempt is assumed.
func (s *EventService) Register(ctx context.Context, eventID, userID string) (model.Registration, error) {
	if eventID == "" || userID == "" {
		return model.Registration{}, fmt.Errorf("event id and user id are required: %w", model.ErrInvalidInput)
	}

	var reg model.Registration
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.store.GetEventForUpdate(txCtx, eventID)
		if err != nil {
			return err
		}
		if !event.AcceptsRegistrations() {
			return model.ErrEventNotActive
		}

		_, err = s.store.GetRegistration(txCtx, eventID, userID)
		switch {
		case err == nil:
			return model.ErrDuplicateRegistration
		case !errors.Is(err, model.ErrRegistrationNotFound):
			return err
		}

		if event.IsFull() {
			return model.ErrCapacityExceeded
		}
		if err := s.store.IncrementParticipantCount(txCtx, eventID); err != nil {
			return err
		}

		reg = model.Registration{
			ID:        s.newID(),
			EventID:   eventID,
			UserID:    userID,
			CreatedAt: s.clock.Now(),
		}
		return s.store.CreateRegistration(txCtx, reg)
	})
	if err != nil {
		return model.Registration{}, surface("register for event", err)
	}
	return reg, nil
}

// Unregister removes userID's registration and frees its place.
// Cancelling after the event has finished is refused with ErrEventNotActive.
func (s *EventService) Unregister(ctx context.Context, eventID, userID string) error {
	if eventID == "" || userID == "" {
		return fmt.Errorf("event id and user id are required: %w", model.ErrInvalidInput)
	}

	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.store.GetEventForUpdate(txCtx, eventID)
		if err != nil {
			return err
		}
		if event.Status == model.EventStatusFinished {
			return model.ErrEventNotActive
		}

		reg, err := s.store.GetRegistration(txCtx, eventID, userID)
		if err != nil {
			if errors.Is(err, model.ErrRegistrationNotFound) {
				return model.ErrNotRegistered
			}
			return err
		}
		if err := s.store.DeleteRegistration(txCtx, reg.ID); err != nil {
			return err
		}
		return s.store.DecrementParticipantCount(txCtx, eventID)
	})
	return surface("unregister from event", err)
}

// ListRegistrations returns all registrations for an event.
func (s *EventService) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	regs, err := s.store.ListRegistrations(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// AttendanceToken returns the token a presenter shows for eventID.
func (s *EventService) AttendanceToken(ctx context.Context, eventID string) (string, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return "", err
	}
	return s.tokens.Issue(eventID)
}

// ConfirmAttendance validates a scanned or typed payload for userID at eventID.
// The first failing step decides the outcome: token binding, then
// registration, then the attended flag. Confirming twice is not an error.
func (s *EventService) ConfirmAttendance(ctx context.Context, eventID, userID, payload string) (model.CheckInResult, error) {
	if err := s.tokens.Verify(payload, eventID); err != nil {
		return model.CheckInResult{}, model.ErrInvalidToken
	}
	if userID == "" {
		return model.CheckInResult{}, model.ErrNotRegistered
	}

	reg, err := s.store.GetRegistration(ctx, eventID, userID)
	if err != nil {
		if errors.Is(err, model.ErrRegistrationNotFound) {
			return model.CheckInResult{}, model.ErrNotRegistered
		}
		return model.CheckInResult{}, fmt.Errorf("confirm attendance: %w", err)
	}
	if reg.Attended {
		return model.CheckInResult{Outcome: model.CheckInAlreadyMarked, Registration: reg}, nil
	}

	now := s.clock.Now()
	changed, err := s.store.SetAttended(ctx, reg.ID, now)
	if err != nil {
		if errors.Is(err, model.ErrRegistrationNotFound) {
			return model.CheckInResult{}, model.ErrNotRegistered
		}
		return model.CheckInResult{}, fmt.Errorf("confirm attendance: %w", err)
	}
	if !changed {
		// Another scan won the race; re-read so the caller sees its timestamp.
		if latest, err := s.store.GetRegistration(ctx, eventID, userID); err == nil {
			reg = latest
		} else {
			reg.Attended = true
		}
		return model.CheckInResult{Outcome: model.CheckInAlreadyMarked, Registration: reg}, nil
	}

	reg.Attended = true
	reg.AttendedAt = &now
	return model.CheckInResult{Outcome: model.CheckInMarked, Registration: reg}, nil
}

// Certificates splits userID's registrations by certificate eligibility.
func (s *EventService) Certificates(ctx context.Context, userID string) (eligibility.Buckets, error) {
	if userID == "" {
		return eligibility.Buckets{}, fmt.Errorf("user id is required: %w", model.ErrInvalidInput)
	}
	items, err := s.store.ListUserRegistrations(ctx, userID)
	if err != nil {
		return eligibility.Buckets{}, fmt.Errorf("list user registrations: %w", err)
	}
	return eligibility.Partition(items), nil
}

// surface returns domain rejections unchanged so handlers can match them,
// and wraps everything else with op.
func surface(op string, err error) error {
	if err == nil {
		return nil
	}
	if model.IsRejection(err) && !model.IsTransient(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
