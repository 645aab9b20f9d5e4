// Package sqlite provides a SQLite-backed persistence gateway for single-node
// deployments and local development.
//
// The store holds a single connection, so every transaction is serialized
// at the database/sql pool: a caller inside WithTx owns the only connection
// until it commits. That gives GetEventForUpdate the same exclusion the
// Postgres row lock provides.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
	"github.com/Shivanand-hulikatti/event-attendance/internal/repository/sqlite/migrations"
)

// Store persists events and registrations in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.sqlDB
}

// WithTx runs fn inside a transaction carried by the context. Nested calls
// join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func sqliteCode(err error) int {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	switch sqliteCode(err) {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	return sqliteCode(err) == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
}

func isCheckViolation(err error) bool {
	return sqliteCode(err) == sqlite3lib.SQLITE_CONSTRAINT_CHECK
}

// classify wraps err with op; BUSY and LOCKED are transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch sqliteCode(err) & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return model.Transient(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const eventColumns = `id, name, description, capacity, participant_count, status, starts_at, workload_hours, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		e         model.Event
		capacity  sql.NullInt64
		status    string
		startsAt  int64
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &capacity, &e.ParticipantCount,
		&status, &startsAt, &e.WorkloadHours, &createdAt); err != nil {
		return model.Event{}, err
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		e.Capacity = &c
	}
	e.Status = model.EventStatus(status)
	e.StartsAt = fromMillis(startsAt)
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}

func nullableCapacity(capacity *int) sql.NullInt64 {
	if capacity == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*capacity), Valid: true}
}

// CreateEvent inserts one event.
func (s *Store) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO events (id, name, description, capacity, participant_count, status, starts_at, workload_hours, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Description, nullableCapacity(e.Capacity), e.ParticipantCount,
		string(e.Status), toMillis(e.StartsAt), e.WorkloadHours, toMillis(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) || isCheckViolation(err) {
			return model.ErrInvalidInput
		}
		return classify("insert event", err)
	}
	return nil
}

// ListEvents returns all events, newest first.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, classify("list events", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, classify("scan event", err)
		}
		events = append(events, e)
	}
	return events, classify("list events", rows.Err())
}

// GetEvent returns one event or ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	e, err := scanEvent(s.conn(ctx).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, model.ErrEventNotFound
		}
		return model.Event{}, classify("get event", err)
	}
	return e, nil
}

// GetEventForUpdate is GetEvent; the single connection already excludes other transactions.
func (s *Store) GetEventForUpdate(ctx context.Context, id string) (model.Event, error) {
	return s.GetEvent(ctx, id)
}

// UpdateEventStatus sets the lifecycle status.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, status model.EventStatus) error {
	if !status.Valid() {
		return model.ErrInvalidInput
	}
	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return classify("update event status", err)
	}
	return requireRow(res, model.ErrEventNotFound)
}

// IncrementParticipantCount adds one participant, refusing to pass capacity.
func (s *Store) IncrementParticipantCount(ctx context.Context, id string) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE events SET participant_count = participant_count + 1
		 WHERE id = ? AND (capacity IS NULL OR participant_count < capacity)`,
		id,
	)
	if err != nil {
		if isCheckViolation(err) {
			return model.ErrCapacityExceeded
		}
		return classify("increment participant_count", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("increment participant_count", err)
	}
	if n == 0 {
		if _, err := s.GetEvent(ctx, id); err != nil {
			return err
		}
		return model.ErrCapacityExceeded
	}
	return nil
}

// DecrementParticipantCount removes one participant, floored at zero.
func (s *Store) DecrementParticipantCount(ctx context.Context, id string) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE events SET participant_count = MAX(participant_count - 1, 0) WHERE id = ?`,
		id,
	)
	if err != nil {
		return classify("decrement participant_count", err)
	}
	return requireRow(res, model.ErrEventNotFound)
}

const registrationColumns = `id, event_id, user_id, attended, attended_at, created_at`

func scanRegistration(row rowScanner) (model.Registration, error) {
	var (
		r          model.Registration
		attended   int
		attendedAt sql.NullInt64
		createdAt  int64
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.UserID, &attended, &attendedAt, &createdAt); err != nil {
		return model.Registration{}, err
	}
	r.Attended = attended != 0
	if attendedAt.Valid {
		at := fromMillis(attendedAt.Int64)
		r.AttendedAt = &at
	}
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}

// GetRegistration returns the registration for (eventID, userID).
func (s *Store) GetRegistration(ctx context.Context, eventID, userID string) (model.Registration, error) {
	r, err := scanRegistration(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE event_id = ? AND user_id = ?`,
		eventID, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Registration{}, model.ErrRegistrationNotFound
		}
		return model.Registration{}, classify("get registration", err)
	}
	return r, nil
}

// CreateRegistration inserts one registration.
func (s *Store) CreateRegistration(ctx context.Context, r model.Registration) error {
	var attendedAt sql.NullInt64
	if r.AttendedAt != nil {
		attendedAt = sql.NullInt64{Int64: toMillis(*r.AttendedAt), Valid: true}
	}
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO registrations (id, event_id, user_id, attended, attended_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.UserID, boolToInt(r.Attended), attendedAt, toMillis(r.CreatedAt),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return model.ErrDuplicateRegistration
		case isForeignKeyViolation(err):
			return model.ErrEventNotFound
		}
		return classify("insert registration", err)
	}
	return nil
}

// DeleteRegistration removes one registration by id.
func (s *Store) DeleteRegistration(ctx context.Context, id string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, id)
	if err != nil {
		return classify("delete registration", err)
	}
	return requireRow(res, model.ErrRegistrationNotFound)
}

// SetAttended flips attended to true and reports whether this call changed it.
func (s *Store) SetAttended(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE registrations SET attended = 1, attended_at = ? WHERE id = ? AND attended = 0`,
		toMillis(at), id,
	)
	if err != nil {
		return false, classify("set attended", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("set attended", err)
	}
	if n == 1 {
		return true, nil
	}

	var found int
	err = s.conn(ctx).QueryRowContext(ctx, `SELECT 1 FROM registrations WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, model.ErrRegistrationNotFound
	}
	if err != nil {
		return false, classify("check registration", err)
	}
	return false, nil
}

// ListRegistrations returns an event's registrations, oldest first.
func (s *Store) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE event_id = ? ORDER BY created_at, id`,
		eventID,
	)
	if err != nil {
		return nil, classify("list registrations", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, classify("scan registration", err)
		}
		regs = append(regs, r)
	}
	return regs, classify("list registrations", rows.Err())
}

// ListUserRegistrations returns userID's registrations with their events.
func (s *Store) ListUserRegistrations(ctx context.Context, userID string) ([]model.UserRegistration, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, classify("list user registrations", err)
	}
	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			rows.Close()
			return nil, classify("scan registration", err)
		}
		regs = append(regs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify("list user registrations", err)
	}

	// Rows must be closed before issuing more queries on the single connection.
	out := make([]model.UserRegistration, 0, len(regs))
	for _, r := range regs {
		e, err := s.GetEvent(ctx, r.EventID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.UserRegistration{Registration: r, Event: e})
	}
	return out, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
