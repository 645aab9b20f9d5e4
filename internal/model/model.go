// Package model defines the core domain types for the event attendance engine.
package model

import "time"

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventStatusActive    EventStatus = "active"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusFinished  EventStatus = "finished"
)

// Valid reports whether s is one of the known lifecycle states.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusActive, EventStatusCancelled, EventStatusFinished:
		return true
	}
	return false
}

// Event represents an event created by an organizer.
//
// Capacity is nil when the event has no upper bound on participants.
// ParticipantCount is a denormalized cache of the live registrations and is
// only ever changed in the same transaction as the registration rows.
type Event struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Capacity         *int        `json:"capacity,omitempty"`
	ParticipantCount int         `json:"participant_count"`
	Status           EventStatus `json:"status"`
	StartsAt         time.Time   `json:"starts_at"`
	WorkloadHours    int         `json:"workload_hours"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Remaining returns the number of free places, or nil when the event is unbounded.
func (e Event) Remaining() *int {
	if e.Capacity == nil {
		return nil
	}
	left := *e.Capacity - e.ParticipantCount
	if left < 0 {
		left = 0
	}
	return &left
}

// IsFull returns true when a capacity is set and no places remain.
func (e Event) IsFull() bool {
	return e.Capacity != nil && e.ParticipantCount >= *e.Capacity
}

// EndsAt is the scheduled start plus the nominal workload.
func (e Event) EndsAt() time.Time {
	return e.StartsAt.Add(time.Duration(e.WorkloadHours) * time.Hour)
}

// IsHappening reports whether now falls inside [StartsAt, EndsAt).
func (e Event) IsHappening(now time.Time) bool {
	if e.StartsAt.IsZero() || now.Before(e.StartsAt) {
		return false
	}
	return now.Before(e.EndsAt())
}

// AcceptsRegistrations is true until the event is finished or cancelled.
func (e Event) AcceptsRegistrations() bool {
	return e.Status == EventStatusActive
}

// Registration represents a user's place at an event. (EventID, UserID) is unique.
type Registration struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	UserID     string     `json:"user_id"`
	Attended   bool       `json:"attended"`
	AttendedAt *time.Time `json:"attended_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UserRegistration pairs a registration with the event it belongs to.
type UserRegistration struct {
	Registration Registration `json:"registration"`
	Event        Event        `json:"event"`
}

// CheckInOutcome describes how a successful check-in was applied.
type CheckInOutcome string

const (
	// CheckInMarked means this call flipped attended from false to true.
	CheckInMarked CheckInOutcome = "marked"
	// CheckInAlreadyMarked means the registration was already attended; nothing changed.
	CheckInAlreadyMarked CheckInOutcome = "already_marked"
)

// CheckInResult is the confirmed result of validating an attendance token.
type CheckInResult struct {
	Outcome      CheckInOutcome `json:"outcome"`
	Registration Registration   `json:"registration"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Capacity      *int      `json:"capacity"`
	StartsAt      time.Time `json:"starts_at"`
	WorkloadHours int       `json:"workload_hours"`
}

// CheckInRequest is the manual-entry payload for confirming attendance.
type CheckInRequest struct {
	Token string `json:"token"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
