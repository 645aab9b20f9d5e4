package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/event-attendance/internal/auth"
	"github.com/Shivanand-hulikatti/event-attendance/internal/clock"
	"github.com/Shivanand-hulikatti/event-attendance/internal/export/sheets"
	"github.com/Shivanand-hulikatti/event-attendance/internal/raffle"
	"github.com/Shivanand-hulikatti/event-attendance/internal/service"
)

// WinnerRecorder persists committed draws for audit.
type WinnerRecorder interface {
	RecordWinner(ctx context.Context, w sheets.Winner) error
}

// RaffleHandler serves the admin raffle panel.
type RaffleHandler struct {
	svc      *service.EventService
	registry *raffle.Registry
	recorder WinnerRecorder
	clock    clock.Clock
}

// NewRaffleHandler constructs a RaffleHandler. recorder may be nil.
func NewRaffleHandler(svc *service.EventService, registry *raffle.Registry, recorder WinnerRecorder, clk clock.Clock) *RaffleHandler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &RaffleHandler{svc: svc, registry: registry, recorder: recorder, clock: clk}
}

type openRaffleResponse struct {
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
}

type drawResponse struct {
	raffle.Result
	Drawn    []string `json:"drawn"`
	Recorded bool     `json:"recorded"`
}

// Open handles POST /events/{id}/raffle
// Starts a draw session owned by the calling admin.
func (h *RaffleHandler) Open(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	caller, _ := auth.FromContext(r.Context())

	id, _ := h.registry.Open(event.ID, caller.UserID)
	writeJSON(w, http.StatusCreated, openRaffleResponse{SessionID: id, EventID: event.ID})
}

// Draw handles POST /raffle/{session}/draw
// Draws the next winner from the event's current registrations.
func (h *RaffleHandler) Draw(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	sessionID := chi.URLParam(r, "session")

	session, err := h.registry.Get(sessionID, caller.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// The event is loaded before drawing so a lookup failure commits nothing.
	event, err := h.svc.GetEvent(r.Context(), session.EventID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	pool, err := h.svc.ListRegistrations(r.Context(), event.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := session.Draw(r.Context(), pool)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := drawResponse{Result: res, Drawn: session.Drawn()}
	if h.recorder != nil {
		err := h.recorder.RecordWinner(r.Context(), sheets.Winner{
			SessionID:      sessionID,
			EventID:        event.ID,
			EventName:      event.Name,
			UserID:         res.Winner.UserID,
			RegistrationID: res.Winner.ID,
			DrawnBy:        caller.UserID,
			DrawnAt:        h.clock.Now(),
		})
		if err != nil {
			log.Printf("request_id=%s record raffle winner: %v", requestID(r), err)
		} else {
			resp.Recorded = true
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type raffleStatusResponse struct {
	SessionID string   `json:"session_id"`
	EventID   string   `json:"event_id"`
	Drawn     []string `json:"drawn"`
	Candidate string   `json:"candidate,omitempty"`
}

// Status handles GET /raffle/{session}
// Reports past winners and the candidate on the reel, which is the last winner once a draw ends.
func (h *RaffleHandler) Status(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	sessionID := chi.URLParam(r, "session")

	session, err := h.registry.Get(sessionID, caller.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, raffleStatusResponse{
		SessionID: sessionID,
		EventID:   session.EventID(),
		Drawn:     session.Drawn(),
		Candidate: session.Candidate(),
	})
}

// Reset handles POST /raffle/{session}/reset
// Makes every registration eligible again.
func (h *RaffleHandler) Reset(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	session, err := h.registry.Get(chi.URLParam(r, "session"), caller.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	session.Reset()

	w.WriteHeader(http.StatusNoContent)
}

// Close handles DELETE /raffle/{session}
func (h *RaffleHandler) Close(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	if err := h.registry.Close(chi.URLParam(r, "session"), caller.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
