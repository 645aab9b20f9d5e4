package model

import (
	"context"
	"errors"
)

// Domain rejections. These are terminal for the same input and are always
// returned to the caller as-is so they can be matched with errors.Is.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrEventNotFound          = errors.New("event not found")
	ErrRegistrationNotFound   = errors.New("registration not found")
	ErrDuplicateRegistration  = errors.New("user already registered for this event")
	ErrCapacityExceeded       = errors.New("event is fully booked")
	ErrEventNotActive         = errors.New("event is not accepting changes")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrInvalidToken           = errors.New("attendance token does not belong to this event")
	ErrNotRegistered          = errors.New("user is not registered for this event")
	ErrNoEligibleParticipants = errors.New("no eligible participants left to draw")
	ErrResourceUnavailable    = errors.New("capture resource unavailable")
)

// TransientError marks an infrastructure failure that is safe to retry with
// the same input. Domain rejections are never wrapped in it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": temporarily unavailable: " + e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retriable infrastructure failure.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retriable.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRejection reports whether err is one of the domain rejections above.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidInput,
		ErrEventNotFound,
		ErrRegistrationNotFound,
		ErrDuplicateRegistration,
		ErrCapacityExceeded,
		ErrEventNotActive,
		ErrInvalidTransition,
		ErrInvalidToken,
		ErrNotRegistered,
		ErrNoEligibleParticipants,
		ErrResourceUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
