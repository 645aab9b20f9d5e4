package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/event-attendance/internal/auth"
)

// RouterConfig holds what NewRouter wires together.
type RouterConfig struct {
	Events      *EventHandler
	Raffle      *RaffleHandler
	Verifier    *auth.Verifier
	CORSOrigins []string
	AccessLog   *log.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(cfg.AccessLog))   // access log
	r.Use(CORS(cfg.CORSOrigins))

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	// Health
	r.Get("/health", HealthCheck)

	events := cfg.Events
	r.Route("/events", func(r chi.Router) {
		r.Get("/", events.ListEvents)
		r.Get("/{id}", events.GetEvent)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Verifier))

			r.Post("/{id}/register", events.Register)
			r.Delete("/{id}/register", events.Unregister)
			r.Post("/{id}/check-in", events.CheckIn)

			r.Group(func(r chi.Router) {
				r.Use(AdminOnly)

				r.Post("/", events.CreateEvent)
				r.Post("/{id}/finish", events.FinishEvent)
				r.Post("/{id}/cancel", events.CancelEvent)
				r.Get("/{id}/registrations", events.ListRegistrations)
				r.Get("/{id}/attendance-token", events.AttendanceToken)
				if cfg.Raffle != nil {
					r.Post("/{id}/raffle", cfg.Raffle.Open)
				}
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier))

		r.Get("/me/certificates", events.Certificates)

		if cfg.Raffle != nil {
			r.Route("/raffle/{session}", func(r chi.Router) {
				r.Use(AdminOnly)

				r.Get("/", cfg.Raffle.Status)
				r.Post("/draw", cfg.Raffle.Draw)
				r.Post("/reset", cfg.Raffle.Reset)
				r.Delete("/", cfg.Raffle.Close)
			})
		}
	})

	return r
}
