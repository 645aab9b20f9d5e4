package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

const registrationColumns = `id, event_id, user_id, attended, attended_at, created_at`

func scanRegistration(row pgx.Row) (model.Registration, error) {
	var r model.Registration
	err := row.Scan(&r.ID, &r.EventID, &r.UserID, &r.Attended, &r.AttendedAt, &r.CreatedAt)
	return r, err
}

// GetRegistration returns the registration for (eventID, userID) or ErrRegistrationNotFound.
func (s *Store) GetRegistration(ctx context.Context, eventID, userID string) (model.Registration, error) {
	r, err := scanRegistration(s.queryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Registration{}, model.ErrRegistrationNotFound
		}
		return model.Registration{}, classify("get registration", err)
	}
	return r, nil
}

// CreateRegistration inserts a registration. The (event_id, user_id) unique
// constraint backs up the duplicate check done under the event lock.
func (s *Store) CreateRegistration(ctx context.Context, r model.Registration) error {
	_, err := s.exec(ctx,
		`INSERT INTO registrations (id, event_id, user_id, attended, attended_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.EventID, r.UserID, r.Attended, r.AttendedAt, r.CreatedAt,
	)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return model.ErrDuplicateRegistration
		case codeForeignKeyViolation:
			return model.ErrEventNotFound
		}
		return classify("insert registration", err)
	}
	return nil
}

// DeleteRegistration removes a registration by id.
func (s *Store) DeleteRegistration(ctx context.Context, id string) error {
	tag, err := s.exec(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return classify("delete registration", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrRegistrationNotFound
	}
	return nil
}

// SetAttended flips attended to true. It reports false when the row was
// already attended, so two racing scans produce exactly one change.
func (s *Store) SetAttended(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.exec(ctx,
		`UPDATE registrations SET attended = TRUE, attended_at = $2 WHERE id = $1 AND attended = FALSE`,
		id, at.UTC(),
	)
	if err != nil {
		return false, classify("set attended", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, classify("check registration", err)
	}
	if !exists {
		return false, model.ErrRegistrationNotFound
	}
	return false, nil
}

// ListRegistrations returns all registrations for a given event.
func (s *Store) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := s.query(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC, id`,
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

// ListUserRegistrations returns userID's registrations joined with their events.
func (s *Store) ListUserRegistrations(ctx context.Context, userID string) ([]model.UserRegistration, error) {
	rows, err := s.query(ctx,
		`SELECT r.id, r.event_id, r.user_id, r.attended, r.attended_at, r.created_at,
		        e.id, e.name, e.description, e.capacity, e.participant_count, e.status,
		        e.starts_at, e.workload_hours, e.created_at
		 FROM registrations r
		 JOIN events e ON e.id = r.event_id
		 WHERE r.user_id = $1
		 ORDER BY r.created_at ASC, r.id`,
		userID,
	)
	if err != nil {
		return nil, classify("list user registrations", err)
	}
	defer rows.Close()

	var out []model.UserRegistration
	for rows.Next() {
		var item model.UserRegistration
		r, e := &item.Registration, &item.Event
		if err := rows.Scan(&r.ID, &r.EventID, &r.UserID, &r.Attended, &r.AttendedAt, &r.CreatedAt,
			&e.ID, &e.Name, &e.Description, &e.Capacity, &e.ParticipantCount, &e.Status,
			&e.StartsAt, &e.WorkloadHours, &e.CreatedAt); err != nil {
			return nil, classify("scan user registration", err)
		}
		out = append(out, item)
	}
	return out, classify("list user registrations", rows.Err())
}
