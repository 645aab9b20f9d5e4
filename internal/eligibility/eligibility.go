// Package eligibility decides whether a registration earns a certificate.
package eligibility

import "github.com/Shivanand-hulikatti/event-attendance/internal/model"

// Status buckets a registration for certificate purposes.
type Status string

const (
	StatusEligible          Status = "eligible"
	StatusPendingAttendance Status = "pending_attendance"
	StatusNotApplicable     Status = "not_applicable"
)

// IsEligible is true iff the event is finished and the registration was attended.
func IsEligible(event model.Event, reg model.Registration) bool {
	return event.Status == model.EventStatusFinished && reg.Attended
}

// Classify places a registration in one of the three buckets.
// Cancelled and still-active events are not applicable.
func Classify(event model.Event, reg model.Registration) Status {
	switch {
	case IsEligible(event, reg):
		return StatusEligible
	case event.Status == model.EventStatusFinished:
		return StatusPendingAttendance
	default:
		return StatusNotApplicable
	}
}

// Buckets holds a user's registrations split by certificate status.
type Buckets struct {
	Eligible          []model.UserRegistration `json:"eligible"`
	PendingAttendance []model.UserRegistration `json:"pending_attendance"`
	NotApplicable     []model.UserRegistration `json:"not_applicable"`
}

// Partition splits items by Classify, preserving input order within each bucket.
func Partition(items []model.UserRegistration) Buckets {
	b := Buckets{
		Eligible:          []model.UserRegistration{},
		PendingAttendance: []model.UserRegistration{},
		NotApplicable:     []model.UserRegistration{},
	}
	for _, item := range items {
		switch Classify(item.Event, item.Registration) {
		case StatusEligible:
			b.Eligible = append(b.Eligible, item)
		case StatusPendingAttendance:
			b.PendingAttendance = append(b.PendingAttendance, item)
		default:
			b.NotApplicable = append(b.NotApplicable, item)
		}
	}
	return b
}
