package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Slot dates and clocks are stored as clinic wall-clock values, so the sweep
// bounds are wall-clock timestamps too (timestamp without time zone).

func (r *PgRepository) FindEndedBefore(ctx context.Context, status Status, wallClock time.Time, limit int) ([]Appointment, error) {
	var result []Appointment
	err := r.run(ctx, "find ended appointments", func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+appointmentColumns+`
			`+appointmentFrom+`
			WHERE a.status = $1
			  AND (s.date + s.end_time) < $2
			ORDER BY s.date, s.end_time
			LIMIT $3
		`, string(status), wallClock, limit)
		if err != nil {
			return err
		}
		result, err = collectAppointments(rows)
		return err
	})
	return result, err
}

func (r *PgRepository) FindDueReminders(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	var result []Appointment
	err := r.run(ctx, "find due reminders", func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+appointmentColumns+`
			`+appointmentFrom+`
			WHERE a.status = 'confirmed'
			  AND a.reminded_at IS NULL
			  AND (s.date + s.start_time) >= $1
			  AND (s.date + s.start_time) < $2
			ORDER BY s.date, s.start_time
			LIMIT $3
		`, from, to, limit)
		if err != nil {
			return err
		}
		result, err = collectAppointments(rows)
		return err
	})
	return result, err
}

// MarkReminded reports false when another sweeper got there first.
func (r *PgRepository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	var marked bool
	err := r.run(ctx, "mark reminded", func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE appointments
			SET reminded_at = $2
			WHERE id = $1
			  AND reminded_at IS NULL
		`, id, at)
		if err != nil {
			return err
		}
		marked = tag.RowsAffected() == 1
		return nil
	})
	return marked, err
}
