// Package sheets appends raffle winners to a Google Sheets audit log.
package sheets

import (
	"context"
	"fmt"
	"os"
	"time"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// SheetWinners is the tab that receives one row per committed draw.
const SheetWinners = "Raffle_Winners"

// Winner is one committed draw.
type Winner struct {
	SessionID      string
	EventID        string
	EventName      string
	UserID         string
	RegistrationID string
	DrawnBy        string
	DrawnAt        time.Time
}

func (w Winner) row() []interface{} {
	return []interface{}{
		w.DrawnAt.UTC().Format(time.RFC3339),
		w.EventID,
		w.EventName,
		w.UserID,
		w.RegistrationID,
		w.SessionID,
		w.DrawnBy,
	}
}

// Recorder writes winners to one spreadsheet.
type Recorder struct {
	srv           *sheetsv4.Service
	spreadsheetID string
}

// New authenticates with a service account key file.
func New(ctx context.Context, serviceAccountJSONPath, spreadsheetID string) (*Recorder, error) {
	if _, err := os.Stat(serviceAccountJSONPath); err != nil {
		return nil, fmt.Errorf("service account json: %w", err)
	}
	return NewWithOptions(ctx, spreadsheetID,
		option.WithCredentialsFile(serviceAccountJSONPath),
		option.WithScopes(sheetsv4.SpreadsheetsScope),
	)
}

// NewWithOptions builds a Recorder from explicit client options.
func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Recorder, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Recorder{srv: srv, spreadsheetID: spreadsheetID}, nil
}

// RecordWinner appends w as a new row.
func (r *Recorder) RecordWinner(ctx context.Context, w Winner) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{w.row()}}
	_, err := r.srv.Spreadsheets.Values.Append(r.spreadsheetID, SheetWinners+"!A:G", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append winner row: %w", err)
	}
	return nil
}
