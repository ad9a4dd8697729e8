// Package payment records payment-gateway callbacks and answers the
// appointment service's "is this appointment paid" question.
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

type Payment struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	TransactionID string    `json:"transaction_id"`
	AmountCents   int64     `json:"amount_cents"`
	Status        Status    `json:"status"`
	ReceivedAt    time.Time `json:"received_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

var ErrTransactionReused = appointment.NewError(appointment.ErrConflict, "transaction id already recorded for another appointment")

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore keeps one row per gateway transaction. Repeated callbacks for
// the same transaction update its status in place. Transient failures are
// retried once, like the appointment repository.
type PgStore struct {
	db      querier
	backoff time.Duration
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool, backoff: db.DefaultRetryBackoff}
}

func (s *PgStore) Record(ctx context.Context, p Payment) (*Payment, error) {
	p.TransactionID = strings.TrimSpace(p.TransactionID)
	switch {
	case p.AppointmentID == uuid.Nil:
		return nil, appointment.NewError(appointment.ErrValidation, "appointment_id is required")
	case p.TransactionID == "":
		return nil, appointment.NewError(appointment.ErrValidation, "transaction_id is required")
	case p.AmountCents < 0:
		return nil, appointment.NewError(appointment.ErrValidation, "amount_cents must not be negative")
	case !p.Status.Valid():
		return nil, appointment.NewError(appointment.ErrValidation, "unknown payment status "+string(p.Status))
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	var (
		out    Payment
		status string
	)
	err := db.RetryOnce(ctx, s.backoff, func(ctx context.Context) error {
		return s.db.QueryRow(ctx, `
			INSERT INTO payments (id, appointment_id, transaction_id, amount_cents, status, received_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (transaction_id) DO UPDATE
			SET status = EXCLUDED.status,
			    amount_cents = EXCLUDED.amount_cents,
			    updated_at = now()
			WHERE payments.appointment_id = EXCLUDED.appointment_id
			RETURNING id, appointment_id, transaction_id, amount_cents, status, received_at, updated_at
		`, p.ID, p.AppointmentID, p.TransactionID, p.AmountCents, string(p.Status)).Scan(
			&out.ID,
			&out.AppointmentID,
			&out.TransactionID,
			&out.AmountCents,
			&status,
			&out.ReceivedAt,
			&out.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionReused
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, appointment.ErrAppointmentNotFound
		}
		return nil, appointment.NewError(appointment.ErrPersistence, "record payment: "+err.Error())
	}

	out.Status = Status(status)
	return &out, nil
}

// IsPaid reports whether a completed payment exists for the appointment.
func (s *PgStore) IsPaid(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var paid bool
	err := db.RetryOnce(ctx, s.backoff, func(ctx context.Context) error {
		return s.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM payments
				WHERE appointment_id = $1
				  AND status = 'completed'
			)
		`, appointmentID).Scan(&paid)
	})
	return paid, err
}
