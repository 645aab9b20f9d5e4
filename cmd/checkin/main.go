// Command checkin is the attendee check-in client. It reads attendance
// tokens from a keyboard-wedge barcode scanner (or typed lines) on stdin and
// confirms them against the API as the user behind CHECKIN_BEARER_TOKEN.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/event-attendance/internal/checkin"
	"github.com/Shivanand-hulikatti/event-attendance/internal/config"
	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
	"github.com/Shivanand-hulikatti/event-attendance/internal/token"
)

func main() {
	cfg, err := config.LoadCheckInClient()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.EventID == "" || cfg.BearerToken == "" {
		log.Fatal("CHECKIN_EVENT_ID and CHECKIN_BEARER_TOKEN are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := checkin.New(
		checkin.Config{EventID: cfg.EventID, ScanInterval: cfg.ScanInterval},
		checkin.NewLineCamera(os.Stdin),
		checkin.PrefixDecoder(token.Prefix),
		&checkin.RemoteConfirmer{
			BaseURL:     cfg.ServerURL,
			BearerToken: cfg.BearerToken,
			Client:      &http.Client{Timeout: cfg.ResultTTL},
		},
		checkin.WithResultTimeout(cfg.ResultTTL),
		checkin.WithObserver(report),
	)

	if err := reader.Open(ctx); err != nil && !errors.Is(err, model.ErrResourceUnavailable) {
		log.Fatalf("open reader: %v", err)
	}

	<-ctx.Done()
	if err := reader.Close(); err != nil {
		log.Printf("close reader: %v", err)
	}
}

func report(s checkin.Status) {
	switch s.State {
	case checkin.StateScanning:
		log.Println("scanning, present the event code")
	case checkin.StateNoPermission:
		log.Printf("scanner unavailable: %v", s.Err)
	case checkin.StateConfirmed:
		if s.Result.Outcome == model.CheckInAlreadyMarked {
			log.Println("✓ attendance was already confirmed")
			return
		}
		log.Println("✓ attendance confirmed")
	case checkin.StateRejected:
		log.Printf("✗ %v", s.Err)
	}
}
