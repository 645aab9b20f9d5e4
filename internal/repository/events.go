package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

const eventColumns = `id, name, description, capacity, participant_count, status, starts_at, workload_hours, created_at`

func scanEvent(row pgx.Row) (model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Capacity, &e.ParticipantCount,
		&e.Status, &e.StartsAt, &e.WorkloadHours, &e.CreatedAt)
	return e, err
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := s.exec(ctx,
		`INSERT INTO events (id, name, description, capacity, participant_count, status, starts_at, workload_hours, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Name, e.Description, e.Capacity, e.ParticipantCount, e.Status, e.StartsAt, e.WorkloadHours, e.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation || pgCode(err) == codeCheckViolation {
			return model.ErrInvalidInput
		}
		return classify("insert event", err)
	}
	return nil
}

// ListEvents returns all events ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id`)
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

// GetEvent returns a single event or ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (model.Event, error) {
	e, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, model.ErrEventNotFound
		}
		return model.Event{}, classify("get event", err)
	}
	return e, nil
}

// GetEventForUpdate reads the event and takes a row-level exclusive lock on it.
//
// Any other transaction asking for the same lock blocks until this one commits
// or rolls back, so the read-check-write on participant_count that follows
// cannot interleave with a concurrent admission.
func (s *Store) GetEventForUpdate(ctx context.Context, id string) (model.Event, error) {
	e, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, model.ErrEventNotFound
		}
		return model.Event{}, classify("lock event row", err)
	}
	return e, nil
}

// UpdateEventStatus sets the lifecycle status.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, status model.EventStatus) error {
	if !status.Valid() {
		return model.ErrInvalidInput
	}
	tag, err := s.exec(ctx, `UPDATE events SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return classify("update event status", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// IncrementParticipantCount adds one participant, refusing to pass capacity.
// The condition lives in the UPDATE itself, so it holds even for a caller that
// skipped the FOR UPDATE read.
func (s *Store) IncrementParticipantCount(ctx context.Context, id string) error {
	tag, err := s.exec(ctx,
		`UPDATE events SET participant_count = participant_count + 1
		 WHERE id = $1 AND (capacity IS NULL OR participant_count < capacity)`,
		id,
	)
	if err != nil {
		if pgCode(err) == codeCheckViolation {
			return model.ErrCapacityExceeded
		}
		return classify("increment participant_count", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEvent(ctx, id); err != nil {
			return err
		}
		return model.ErrCapacityExceeded
	}
	return nil
}

// DecrementParticipantCount removes one participant, floored at zero.
func (s *Store) DecrementParticipantCount(ctx context.Context, id string) error {
	tag, err := s.exec(ctx,
		`UPDATE events SET participant_count = GREATEST(participant_count - 1, 0) WHERE id = $1`,
		id,
	)
	if err != nil {
		return classify("decrement participant_count", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEventNotFound
	}
	return nil
}
