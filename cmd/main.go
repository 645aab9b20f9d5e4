// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/event-attendance/internal/auth"
	"github.com/Shivanand-hulikatti/event-attendance/internal/config"
	"github.com/Shivanand-hulikatti/event-attendance/internal/database"
	"github.com/Shivanand-hulikatti/event-attendance/internal/export/sheets"
	"github.com/Shivanand-hulikatti/event-attendance/internal/handler"
	"github.com/Shivanand-hulikatti/event-attendance/internal/raffle"
	"github.com/Shivanand-hulikatti/event-attendance/internal/repository"
	"github.com/Shivanand-hulikatti/event-attendance/internal/repository/memory"
	"github.com/Shivanand-hulikatti/event-attendance/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/event-attendance/internal/service"
	"github.com/Shivanand-hulikatti/event-attendance/internal/token"
)

const raffleSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Open storage ──────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	log.Printf("✓ Storage ready (driver=%s)", cfg.Driver())

	// ── 2. Wire up layers ────────────────────────────────────────────────
	codec, err := tokenCodec(cfg)
	if err != nil {
		closeStore()
		log.Fatalf("attendance tokens: %v", err)
	}
	verifier, err := auth.NewVerifier(cfg.AuthSecret, nil)
	if err != nil {
		closeStore()
		log.Fatalf("auth: %v", err)
	}

	eventSvc := service.NewEventService(store, service.WithTokenCodec(codec))
	registry := raffle.NewRegistry(cfg.RaffleSessionTTL, nil,
		raffle.WithSpins(cfg.RaffleSpins),
		raffle.WithSpinInterval(cfg.RaffleSpinInterval),
	)

	var recorder handler.WinnerRecorder
	if cfg.SheetsEnabled() {
		rec, err := sheets.New(ctx, cfg.SheetsCredentials, cfg.SheetsSpreadsheetID)
		if err != nil {
			closeStore()
			log.Fatalf("sheets: %v", err)
		}
		recorder = rec
		log.Printf("✓ Raffle winners will be appended to spreadsheet %s", cfg.SheetsSpreadsheetID)
	}

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterConfig{
		Events:      handler.NewEventHandler(eventSvc),
		Raffle:      handler.NewRaffleHandler(eventSvc, registry, recorder, nil),
		Verifier:    verifier,
		CORSOrigins: cfg.CORSOrigins,
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return registry.Run(gctx, raffleSweepInterval, func(expired, open int) {
			log.Printf("raffle: expired %d sessions, %d still open", expired, open)
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	closeStore()
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Println("server stopped")
}

// openStore returns the configured gateway and a function that releases it.
func openStore(ctx context.Context, cfg config.Config) (service.Gateway, func(), error) {
	switch cfg.Driver() {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return repository.NewStore(pool), pool.Close, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Printf("close sqlite: %v", err)
			}
		}, nil
	case config.DriverMemory:
		log.Println("⚠ Using in-memory storage; data is lost on restart")
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func tokenCodec(cfg config.Config) (token.Codec, error) {
	if cfg.AttendanceTokenSecret == "" {
		return token.Plain{}, nil
	}
	return token.NewSigned([]byte(cfg.AttendanceTokenSecret), cfg.AttendanceTokenTTL, nil)
}
