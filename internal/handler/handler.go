// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/event-attendance/internal/auth"
	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
	"github.com/Shivanand-hulikatti/event-attendance/internal/raffle"
	"github.com/Shivanand-hulikatti/event-attendance/internal/service"
)

// EventHandler holds the HTTP handlers for events, registrations and check-in.
type EventHandler struct {
	svc *service.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

const (
	codeInvalidRequestBody     = "invalid_request_body"
	codeInvalidInput           = "invalid_input"
	codeUnauthorized           = "unauthorized"
	codeForbidden              = "forbidden"
	codeNotFound               = "not_found"
	codeMethodNotAllowed       = "method_not_allowed"
	codeEventNotFound          = "event_not_found"
	codeRegistrationNotFound   = "registration_not_found"
	codeAlreadyRegistered      = "already_registered"
	codeCapacityExceeded       = "capacity_exceeded"
	codeEventNotActive         = "event_not_active"
	codeInvalidTransition      = "invalid_transition"
	codeInvalidToken           = "invalid_token"
	codeNotRegistered          = "not_registered"
	codeNoEligibleParticipants = "no_eligible_participants"
	codeSessionNotFound        = "session_not_found"
	codeResourceUnavailable    = "resource_unavailable"
	codeTemporarilyUnavailable = "temporarily_unavailable"
	codeInternalError          = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps engine errors to status codes. Rejections keep
// their message; infrastructure failures are logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if model.IsTransient(err) {
		log.Printf("request_id=%s transient failure: %v", requestID(r), err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, codeTemporarilyUnavailable, "temporarily unavailable, try again")
		return
	}

	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, model.ErrEventNotFound):
		writeError(w, http.StatusNotFound, codeEventNotFound, model.ErrEventNotFound.Error())
	case errors.Is(err, model.ErrRegistrationNotFound):
		writeError(w, http.StatusNotFound, codeRegistrationNotFound, model.ErrRegistrationNotFound.Error())
	case errors.Is(err, raffle.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, codeSessionNotFound, raffle.ErrSessionNotFound.Error())
	case errors.Is(err, model.ErrDuplicateRegistration):
		writeError(w, http.StatusConflict, codeAlreadyRegistered, "you are already registered for this event")
	case errors.Is(err, model.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, codeCapacityExceeded, model.ErrCapacityExceeded.Error())
	case errors.Is(err, model.ErrEventNotActive):
		writeError(w, http.StatusConflict, codeEventNotActive, model.ErrEventNotActive.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.Is(err, model.ErrNoEligibleParticipants):
		writeError(w, http.StatusConflict, codeNoEligibleParticipants, model.ErrNoEligibleParticipants.Error())
	case errors.Is(err, model.ErrInvalidToken):
		writeError(w, http.StatusUnprocessableEntity, codeInvalidToken, model.ErrInvalidToken.Error())
	case errors.Is(err, model.ErrNotRegistered):
		writeError(w, http.StatusNotFound, codeNotRegistered, model.ErrNotRegistered.Error())
	case errors.Is(err, model.ErrResourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeResourceUnavailable, model.ErrResourceUnavailable.Error())
	default:
		log.Printf("request_id=%s internal error: %v", requestID(r), err)
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

// eventView adds derived fields to an event.
type eventView struct {
	model.Event
	Remaining *int `json:"remaining,omitempty"`
	Happening bool `json:"happening"`
}

func (h *EventHandler) viewOf(e model.Event) eventView {
	return eventView{Event: e, Remaining: e.Remaining(), Happening: e.IsHappening(h.svc.Now())}
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
// Creates a new active event.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.viewOf(event))
}

// ListEvents handles GET /events
// Returns a JSON array of all events.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, h.viewOf(e))
	}

	writeJSON(w, http.StatusOK, views)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.viewOf(event))
}

// FinishEvent handles POST /events/{id}/finish
func (h *EventHandler) FinishEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.FinishEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.viewOf(event))
}

// CancelEvent handles POST /events/{id}/cancel
func (h *EventHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.CancelEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.viewOf(event))
}

// AttendanceToken handles GET /events/{id}/attendance-token
// Returns the payload the presenter renders as a QR code.
func (h *EventHandler) AttendanceToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tok, err := h.svc.AttendanceToken(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"event_id": id, "token": tok})
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/register
// Admits the authenticated caller if a place is free.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	reg, err := h.svc.Register(r.Context(), chi.URLParam(r, "id"), caller.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// Unregister handles DELETE /events/{id}/register
func (h *EventHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	if err := h.svc.Unregister(r.Context(), chi.URLParam(r, "id"), caller.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRegistrations handles GET /events/{id}/registrations
// Returns all registrations for a given event.
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// CheckIn handles POST /events/{id}/check-in
// Confirms attendance from a typed or scanned token. Checking in twice
// returns the already_marked outcome, not an error.
func (h *EventHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req model.CheckInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body: "+err.Error())
		return
	}
	caller, _ := auth.FromContext(r.Context())

	res, err := h.svc.ConfirmAttendance(r.Context(), chi.URLParam(r, "id"), caller.UserID, req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Certificates handles GET /me/certificates
func (h *EventHandler) Certificates(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	buckets, err := h.svc.Certificates(r.Context(), caller.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, buckets)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFound is the JSON 404 for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, "not found")
}

// MethodNotAllowed is the JSON 405 for known routes.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}
