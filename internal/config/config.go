// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Shivanand-hulikatti/event-attendance/internal/database"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

const minSecretLen = 16

// Config is the API server configuration.
type Config struct {
	Port            string        `env:"PORT"             envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS"     envDefault:"*" envSeparator:","`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	SQLitePath    string `env:"SQLITE_PATH"    envDefault:"event-attendance.db"`
	Database      database.Config

	AuthSecret string `env:"AUTH_JWT_SECRET"`

	// AttendanceTokenSecret switches attendance tokens from the plain
	// "EVENT_ATTENDANCE:<id>" form to short-lived signed tokens.
	AttendanceTokenSecret string        `env:"ATTENDANCE_TOKEN_SECRET"`
	AttendanceTokenTTL    time.Duration `env:"ATTENDANCE_TOKEN_TTL" envDefault:"5m"`

	RaffleSpins        int           `env:"RAFFLE_SPINS"         envDefault:"20"`
	RaffleSpinInterval time.Duration `env:"RAFFLE_SPIN_INTERVAL" envDefault:"0s"`
	RaffleSessionTTL   time.Duration `env:"RAFFLE_SESSION_TTL"   envDefault:"30m"`

	SheetsSpreadsheetID string `env:"SHEETS_SPREADSHEET_ID"`
	SheetsCredentials   string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
}

// SheetsEnabled reports whether draw winners are appended to a spreadsheet.
func (c Config) SheetsEnabled() bool {
	return c.SheetsSpreadsheetID != ""
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express.
func (c Config) Validate() error {
	var errs []error

	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case DriverPostgres, DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER %q is not one of postgres, sqlite, memory", c.StorageDriver))
	}

	if len(c.AuthSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("AUTH_JWT_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.AttendanceTokenSecret != "" && len(c.AttendanceTokenSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("ATTENDANCE_TOKEN_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.AttendanceTokenTTL <= 0 {
		errs = append(errs, errors.New("ATTENDANCE_TOKEN_TTL must be positive"))
	}
	if c.RaffleSpins < 0 {
		errs = append(errs, errors.New("RAFFLE_SPINS cannot be negative"))
	}
	if c.RaffleSpinInterval < 0 {
		errs = append(errs, errors.New("RAFFLE_SPIN_INTERVAL cannot be negative"))
	}
	if c.RaffleSessionTTL <= 0 {
		errs = append(errs, errors.New("RAFFLE_SESSION_TTL must be positive"))
	}
	if c.SheetsSpreadsheetID != "" && c.SheetsCredentials == "" {
		errs = append(errs, errors.New("GOOGLE_SERVICE_ACCOUNT_JSON is required when SHEETS_SPREADSHEET_ID is set"))
	}
	return errors.Join(errs...)
}

// Driver returns the normalized storage driver name.
func (c Config) Driver() string {
	return strings.ToLower(strings.TrimSpace(c.StorageDriver))
}

// CheckInClient configures the attendee check-in client.
type CheckInClient struct {
	ServerURL    string        `env:"CHECKIN_SERVER_URL"    envDefault:"http://localhost:8080"`
	EventID      string        `env:"CHECKIN_EVENT_ID"`
	BearerToken  string        `env:"CHECKIN_BEARER_TOKEN"`
	ScanInterval time.Duration `env:"CHECKIN_SCAN_INTERVAL" envDefault:"250ms"`
	ResultTTL    time.Duration `env:"CHECKIN_RESULT_TIMEOUT" envDefault:"3s"`
}

// LoadCheckInClient reads an optional .env file and then the process environment.
func LoadCheckInClient() (CheckInClient, error) {
	_ = godotenv.Load()
	var cfg CheckInClient
	if err := env.Parse(&cfg); err != nil {
		return CheckInClient{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ScanInterval <= 0 {
		return CheckInClient{}, errors.New("CHECKIN_SCAN_INTERVAL must be positive")
	}
	return cfg, nil
}
