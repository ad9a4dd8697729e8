package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertSlot publishes one slot. Publishes for the same doctor are serialized
// on the doctor row so the overlap check and the insert see the same state;
// the exclusion constraint backs this up.
func (r *PgRepository) InsertSlot(ctx context.Context, ns NewSlot) (*AvailabilitySlot, error) {
	var slot *AvailabilitySlot
	err := r.run(ctx, "publish slot", func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var doctorID uuid.UUID
			err := tx.QueryRow(ctx, `
				SELECT id FROM doctors WHERE id = $1 FOR NO KEY UPDATE
			`, ns.DoctorID).Scan(&doctorID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrDoctorNotFound
				}
				return err
			}

			var clash uuid.UUID
			err = tx.QueryRow(ctx, `
				SELECT id
				FROM availability_slots
				WHERE doctor_id = $1
				  AND date = $2
				  AND is_active
				  AND start_time < $4
				  AND end_time > $3
				LIMIT 1
			`, ns.DoctorID, ns.Date, pgClock(ns.StartTime), pgClock(ns.EndTime)).Scan(&clash)
			switch {
			case err == nil:
				return ErrSlotOverlap
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}

			slot, err = scanSlot(tx.QueryRow(ctx, `
				INSERT INTO availability_slots (id, doctor_id, date, start_time, end_time, is_active, is_booked, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, true, false, now(), now())
				RETURNING `+slotColumns,
				ns.ID, ns.DoctorID, ns.Date, pgClock(ns.StartTime), pgClock(ns.EndTime)))
			return err
		})
	})
	return slot, err
}

// UpdateSlot moves an unbooked slot to a new date and window. The overlap
// check skips the slot itself.
func (r *PgRepository) UpdateSlot(ctx context.Context, su SlotUpdate) (*AvailabilitySlot, error) {
	var slot *AvailabilitySlot
	err := r.run(ctx, "update slot", func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			current, err := scanSlot(tx.QueryRow(ctx, `
				SELECT `+slotColumns+`
				FROM availability_slots
				WHERE id = $1
				FOR UPDATE
			`, su.ID))
			if err != nil {
				return err
			}
			if !current.IsActive {
				return ErrSlotNotFound
			}
			if current.IsBooked {
				return ErrSlotBooked
			}

			if _, err := tx.Exec(ctx, `
				SELECT id FROM doctors WHERE id = $1 FOR NO KEY UPDATE
			`, current.DoctorID); err != nil {
				return err
			}

			var clash uuid.UUID
			err = tx.QueryRow(ctx, `
				SELECT id
				FROM availability_slots
				WHERE doctor_id = $1
				  AND id <> $2
				  AND date = $3
				  AND is_active
				  AND start_time < $5
				  AND end_time > $4
				LIMIT 1
			`, current.DoctorID, su.ID, su.Date, pgClock(su.StartTime), pgClock(su.EndTime)).Scan(&clash)
			switch {
			case err == nil:
				return ErrSlotOverlap
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}

			slot, err = scanSlot(tx.QueryRow(ctx, `
				UPDATE availability_slots
				SET date = $2,
				    start_time = $3,
				    end_time = $4,
				    updated_at = now()
				WHERE id = $1
				RETURNING `+slotColumns,
				su.ID, su.Date, pgClock(su.StartTime), pgClock(su.EndTime)))
			return err
		})
	})
	return slot, err
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]AvailabilitySlot, error) {
	return r.listSlots(ctx, "list available slots", `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND date BETWEEN $2 AND $3
		  AND is_active
		  AND NOT is_booked
		ORDER BY date, start_time
	`, doctorID, from, to)
}

func (r *PgRepository) ListActiveSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]AvailabilitySlot, error) {
	return r.listSlots(ctx, "list active slots", `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND date BETWEEN $2 AND $3
		  AND is_active
		ORDER BY date, start_time
	`, doctorID, from, to)
}

func (r *PgRepository) listSlots(ctx context.Context, op, sql string, args ...any) ([]AvailabilitySlot, error) {
	var result []AvailabilitySlot
	err := r.run(ctx, op, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			s, err := scanSlot(rows)
			if err != nil {
				return err
			}
			result = append(result, *s)
		}
		return rows.Err()
	})
	return result, err
}

// DeactivateSlot soft-deletes a slot. A booked slot stays published while any
// appointment that was not cancelled references it, so completed and no-show
// history keeps its slot. Revoking an inactive slot is a no-op.
func (r *PgRepository) DeactivateSlot(ctx context.Context, slotID uuid.UUID) (*AvailabilitySlot, error) {
	var slot *AvailabilitySlot
	err := r.run(ctx, "revoke slot", func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			current, err := scanSlot(tx.QueryRow(ctx, `
				SELECT `+slotColumns+`
				FROM availability_slots
				WHERE id = $1
				FOR UPDATE
			`, slotID))
			if err != nil {
				return err
			}
			if !current.IsActive {
				slot = current
				return nil
			}

			if current.IsBooked {
				var holder uuid.UUID
				err := tx.QueryRow(ctx, `
					SELECT id
					FROM appointments
					WHERE slot_id = $1
					  AND status <> 'cancelled'
					LIMIT 1
				`, slotID).Scan(&holder)
				switch {
				case err == nil:
					return ErrSlotHasAppointment
				case !errors.Is(err, pgx.ErrNoRows):
					return err
				}
			}

			slot, err = scanSlot(tx.QueryRow(ctx, `
				UPDATE availability_slots
				SET is_active = false,
				    updated_at = now()
				WHERE id = $1
				RETURNING `+slotColumns, slotID))
			return err
		})
	})
	return slot, err
}

func (r *PgRepository) FindOpenAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	var a *Appointment
	err := r.run(ctx, "find slot appointment", func(ctx context.Context) error {
		var err error
		a, err = findOpenAppointment(ctx, r.pool, slotID)
		return err
	})
	return a, err
}

func findOpenAppointment(ctx context.Context, q querier, slotID uuid.UUID) (*Appointment, error) {
	return scanAppointment(q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		`+appointmentFrom+`
		WHERE a.slot_id = $1
		  AND a.status IN ('scheduled', 'confirmed')
		LIMIT 1
	`, slotID))
}
