// Package repository implements the persistence gateway on PostgreSQL.
// It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

// Store handles persistence for events and registrations.
type Store struct {
	db *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

type txKey struct{}

// WithTx runs fn inside a transaction carried by the context. Nested calls
// reuse the outer transaction.
//
// Isolation stays at READ COMMITTED: the admission path serializes on the
// event row with SELECT ... FOR UPDATE rather than relying on SERIALIZABLE
// retries.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin transaction", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.db.Exec(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.db.QueryRow(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.db.Query(ctx, sql, args...)
}

// Postgres error codes the gateway reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify wraps err with op, marking connection-level and contention
// failures as transient so callers can retry them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable,
		codeTooManyConnections, codeAdminShutdown, codeCannotConnectNow:
		return model.Transient(op, err)
	case "":
		var connErr *pgconn.ConnectError
		if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
			errors.Is(err, context.DeadlineExceeded) {
			return model.Transient(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
