package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type PgRepository struct {
	pool    pgPool
	backoff time.Duration
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return newPgRepositoryWithPool(pool)
}

func newPgRepositoryWithPool(pool pgPool) *PgRepository {
	return &PgRepository{pool: pool, backoff: db.DefaultRetryBackoff}
}

const slotColumns = `id, doctor_id, date, start_time, end_time, is_active, is_booked, created_at, updated_at`

// appointmentColumns expects appointments aliased as a and the claimed slot as s.
const appointmentColumns = `a.id, a.doctor_id, a.patient_id, a.slot_id, a.status, a.reason, a.notes,
	a.rescheduled_from, a.idempotency_key, a.reminded_at, a.created_at, a.updated_at,
	s.date, s.start_time, s.end_time`

const appointmentFrom = `FROM appointments a JOIN availability_slots s ON s.id = a.slot_id`

// Helpers

func pgClock(c schedule.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: c.Microseconds(), Valid: true}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var (
		d                 Doctor
		opensAt, closesAt pgtype.Time
		slotMinutes       int32
	)

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&opensAt,
		&closesAt,
		&slotMinutes,
		&d.RequiresPrepayment,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.ClinicOpen = schedule.ClockFromMicroseconds(opensAt.Microseconds)
	d.ClinicClose = schedule.ClockFromMicroseconds(closesAt.Microseconds)
	d.SlotDuration = time.Duration(slotMinutes) * time.Minute
	return &d, nil
}

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var (
		s          AvailabilitySlot
		start, end pgtype.Time
	)

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&start,
		&end,
		&s.IsActive,
		&s.IsBooked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.StartTime = schedule.ClockFromMicroseconds(start.Microseconds)
	s.EndTime = schedule.ClockFromMicroseconds(end.Microseconds)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a          Appointment
		status     string
		start, end pgtype.Time
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.SlotID,
		&status,
		&a.Reason,
		&a.Notes,
		&a.RescheduledFrom,
		&a.IdempotencyKey,
		&a.RemindedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Date,
		&start,
		&end,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	a.StartTime = schedule.ClockFromMicroseconds(start.Microseconds)
	a.EndTime = schedule.ClockFromMicroseconds(end.Microseconds)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func getAppointment(ctx context.Context, q querier, id uuid.UUID, lock bool) (*Appointment, error) {
	sql := `SELECT ` + appointmentColumns + ` ` + appointmentFrom + ` WHERE a.id = $1`
	if lock {
		sql += ` FOR UPDATE OF a`
	}
	return scanAppointment(q.QueryRow(ctx, sql, id))
}

// Reads

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p *Patient
	err := r.run(ctx, "get patient", func(ctx context.Context) error {
		var err error
		p, err = scanPatient(r.pool.QueryRow(ctx, `
			SELECT id, name, email, created_at, updated_at
			FROM patients
			WHERE id = $1
		`, id))
		return err
	})
	return p, err
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d *Doctor
	err := r.run(ctx, "get doctor", func(ctx context.Context) error {
		var err error
		d, err = scanDoctor(r.pool.QueryRow(ctx, `
			SELECT id, name, specialty, clinic_open, clinic_close, slot_minutes,
			       requires_prepayment, created_at, updated_at
			FROM doctors
			WHERE id = $1
		`, id))
		if err != nil {
			return err
		}

		rows, err := r.pool.Query(ctx, `
			SELECT start_time, end_time
			FROM doctor_breaks
			WHERE doctor_id = $1
			ORDER BY start_time
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var start, end pgtype.Time
			if err := rows.Scan(&start, &end); err != nil {
				return err
			}
			d.Breaks = append(d.Breaks, schedule.Window{
				Start: schedule.ClockFromMicroseconds(start.Microseconds),
				End:   schedule.ClockFromMicroseconds(end.Microseconds),
			})
		}
		return rows.Err()
	})
	return d, err
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	var s *AvailabilitySlot
	err := r.run(ctx, "get slot", func(ctx context.Context) error {
		var err error
		s, err = scanSlot(r.pool.QueryRow(ctx, `
			SELECT `+slotColumns+`
			FROM availability_slots
			WHERE id = $1
		`, id))
		return err
	})
	return s, err
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a *Appointment
	err := r.run(ctx, "get appointment", func(ctx context.Context) error {
		var err error
		a, err = getAppointment(ctx, r.pool, id, false)
		return err
	})
	return a, err
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("a.doctor_id = $%d", *f.DoctorID)
	}
	if f.SlotID != nil {
		add("a.slot_id = $%d", *f.SlotID)
	}
	if f.Status != nil {
		add("a.status = $%d", string(*f.Status))
	}

	sql := `SELECT ` + appointmentColumns + ` ` + appointmentFrom
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	sql += fmt.Sprintf(` ORDER BY s.date DESC, s.start_time DESC, a.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	var result []Appointment
	err := r.run(ctx, "list appointments", func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		result, err = collectAppointments(rows)
		return err
	})
	return result, err
}
