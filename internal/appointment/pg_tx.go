package appointment

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

// Constraint names from migrations/000001_init.up.sql.
const (
	constraintActiveSlot     = "uq_availability_slots_active"
	constraintSlotOverlap    = "ex_availability_slots_no_overlap"
	constraintLiveSlot       = "uq_appointments_live_slot"
	constraintIdempotencyKey = "uq_appointments_idempotency"
)

// pgPool is the slice of *pgxpool.Pool the repository needs. pgxmock's pool
// satisfies it too.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is what both the pool and a transaction offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// run executes fn, retrying once after a short backoff when the failure is
// transient. Whatever is left is translated into an error kind.
func (r *PgRepository) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return classify(op, db.RetryOnce(ctx, r.backoff, fn))
}

func (r *PgRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}
	if mapped := mapPgError(err); mapped != nil {
		return mapped
	}
	return persistenceError(op, err)
}

// mapPgError turns constraint violations into domain errors. It returns nil
// for anything that is not a known constraint failure.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		switch pgErr.ConstraintName {
		case constraintLiveSlot:
			return ErrSlotTaken
		case constraintActiveSlot:
			return ErrSlotOverlap
		case constraintIdempotencyKey:
			return ErrIdempotencyMismatch
		}
		return &Error{kind: ErrConflict, msg: "duplicate record", cause: err}
	case "23P01": // exclusion_violation
		return ErrSlotOverlap
	case "23503": // foreign_key_violation
		switch {
		case strings.Contains(pgErr.ConstraintName, "patient"):
			return ErrPatientNotFound
		case strings.Contains(pgErr.ConstraintName, "doctor"):
			return ErrDoctorNotFound
		case strings.Contains(pgErr.ConstraintName, "slot"):
			return ErrSlotNotFound
		}
		return &Error{kind: ErrNotFound, msg: "referenced record not found", cause: err}
	case "23514", "22007", "22008": // check_violation, bad datetime
		return &Error{kind: ErrValidation, msg: "rejected by storage constraints", cause: err}
	}
	return nil
}

func isConstraint(err error, name string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.ConstraintName == name
}
