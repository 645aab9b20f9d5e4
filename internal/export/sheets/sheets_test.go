package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

func TestRecordWinnerAppendsRow(t *testing.T) {
	var (
		gotPath string
		gotBody sheetsv4.ValueRange
		gotOpt  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOpt = r.URL.Query().Get("valueInputOption")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))
	}))
	defer srv.Close()

	rec, err := NewWithOptions(context.Background(), "sheet-1",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	err = rec.RecordWinner(context.Background(), Winner{
		SessionID:      "s1",
		EventID:        "e1",
		EventName:      "Go meetup",
		UserID:         "u1",
		RegistrationID: "r1",
		DrawnBy:        "admin",
		DrawnAt:        time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("record winner: %v", err)
	}

	if !strings.Contains(gotPath, "/v4/spreadsheets/sheet-1/values/") || !strings.HasSuffix(gotPath, ":append") {
		t.Fatalf("unexpected request path %s", gotPath)
	}
	if gotOpt != "RAW" {
		t.Fatalf("expected RAW input option, got %q", gotOpt)
	}
	if len(gotBody.Values) != 1 || len(gotBody.Values[0]) != 7 {
		t.Fatalf("unexpected values %v", gotBody.Values)
	}
	row := gotBody.Values[0]
	if row[0] != "2026-05-01T20:00:00Z" || row[3] != "u1" || row[5] != "s1" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestRecordWinnerSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	rec, err := NewWithOptions(context.Background(), "sheet-1",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if err := rec.RecordWinner(context.Background(), Winner{UserID: "u1"}); err == nil {
		t.Fatal("expected error from failing API")
	}
}

func TestNewRequiresCredentialsFile(t *testing.T) {
	if _, err := New(context.Background(), "/nonexistent/creds.json", "sheet-1"); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}

func TestNewWithOptionsRequiresSpreadsheetID(t *testing.T) {
	if _, err := NewWithOptions(context.Background(), "", option.WithoutAuthentication()); err == nil {
		t.Fatal("expected error for empty spreadsheet id")
	}
}
