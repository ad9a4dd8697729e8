package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ClaimSlot flips the slot to booked with a compare-and-swap and inserts
// the scheduled appointment in the same transaction. Of any number of
// concurrent claims on one slot exactly one sees the row update.
func (r *PgRepository) ClaimSlot(ctx context.Context, c Claim) (*ClaimResult, error) {
	var result *ClaimResult
	attempt := func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			if c.IdempotencyKey != nil {
				prior, err := findByIdempotencyKey(ctx, tx, c)
				if err != nil {
					return err
				}
				if prior != nil {
					result = &ClaimResult{Appointment: prior, Replayed: true}
					return nil
				}
			}

			claimed, err := casBookSlot(ctx, tx, c.SlotID, c.DoctorID)
			if err != nil {
				return err
			}
			if !claimed {
				return explainUnclaimable(ctx, tx, c, &result)
			}

			appt, err := insertAppointment(ctx, tx, c, nil)
			if err != nil {
				return err
			}
			result = &ClaimResult{Appointment: appt}
			return nil
		})
	}

	err := r.run(ctx, "book slot", func(ctx context.Context) error {
		err := attempt(ctx)
		if isConstraint(err, constraintIdempotencyKey) {
			// A concurrent request with the same key committed first.
			// Rerun so the lookup finds it.
			err = attempt(ctx)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func casBookSlot(ctx context.Context, tx pgx.Tx, slotID, doctorID uuid.UUID) (bool, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		UPDATE availability_slots
		SET is_booked = true,
		    updated_at = now()
		WHERE id = $1
		  AND doctor_id = $2
		  AND is_active
		  AND NOT is_booked
		RETURNING id
	`, slotID, doctorID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// explainUnclaimable runs after a CAS miss. A same-key request that won the
// row while this one waited is replayed; otherwise the miss is reported as
// not found or taken.
func explainUnclaimable(ctx context.Context, tx pgx.Tx, c Claim, result **ClaimResult) error {
	if c.IdempotencyKey != nil {
		prior, err := findByIdempotencyKey(ctx, tx, c)
		if err != nil {
			return err
		}
		if prior != nil {
			*result = &ClaimResult{Appointment: prior, Replayed: true}
			return nil
		}
	}

	var active bool
	err := tx.QueryRow(ctx, `
		SELECT is_active FROM availability_slots WHERE id = $1 AND doctor_id = $2
	`, c.SlotID, c.DoctorID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSlotNotFound
	}
	if err != nil {
		return err
	}
	return ErrSlotTaken
}

// findByIdempotencyKey returns the earlier booking for the key, or nil. A
// key reused for another slot is a conflict.
func findByIdempotencyKey(ctx context.Context, q querier, c Claim) (*Appointment, error) {
	prior, err := scanAppointment(q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		`+appointmentFrom+`
		WHERE a.patient_id = $1
		  AND a.idempotency_key = $2
	`, c.PatientID, *c.IdempotencyKey))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prior.SlotID != c.SlotID || prior.DoctorID != c.DoctorID {
		return nil, ErrIdempotencyMismatch
	}
	return prior, nil
}

func insertAppointment(ctx context.Context, tx pgx.Tx, c Claim, rescheduledFrom *uuid.UUID) (*Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		WITH a AS (
			INSERT INTO appointments (id, doctor_id, patient_id, slot_id, status, reason, rescheduled_from, idempotency_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'scheduled', $5, $6, $7, now(), now())
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM a JOIN availability_slots s ON s.id = a.slot_id
	`, c.AppointmentID, c.DoctorID, c.PatientID, c.SlotID, c.Reason, rescheduledFrom, c.IdempotencyKey))
}

// Reschedule cancels the old appointment, releases its slot, claims the new
// slot and books it, all in one transaction. Any failure leaves both slots
// and the old appointment as they were.
func (r *PgRepository) Reschedule(ctx context.Context, rc RescheduleClaim) (*RescheduleResult, error) {
	var result *RescheduleResult
	err := r.run(ctx, "reschedule appointment", func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			old, err := getAppointment(ctx, tx, rc.AppointmentID, true)
			if err != nil {
				return err
			}
			if !old.Status.Open() {
				return InvalidTransition(old.Status, StatusCancelled)
			}
			if old.SlotID == rc.NewSlotID {
				return validationf("appointment already holds slot %s", rc.NewSlotID)
			}

			claimed, err := casBookSlot(ctx, tx, rc.NewSlotID, old.DoctorID)
			if err != nil {
				return err
			}
			if !claimed {
				return explainRescheduleMiss(ctx, tx, rc.NewSlotID, old.DoctorID)
			}

			cancelled, err := setStatus(ctx, tx, old.ID, old.Status, StatusCancelled, "")
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE availability_slots
				SET is_booked = false,
				    updated_at = now()
				WHERE id = $1
			`, old.SlotID); err != nil {
				return err
			}

			booked, err := insertAppointment(ctx, tx, Claim{
				AppointmentID: rc.NewAppointmentID,
				DoctorID:      old.DoctorID,
				SlotID:        rc.NewSlotID,
				PatientID:     old.PatientID,
				Reason:        old.Reason,
			}, &old.ID)
			if err != nil {
				return err
			}

			result = &RescheduleResult{
				Cancelled:      cancelled,
				Booked:         booked,
				PreviousStatus: old.Status,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func explainRescheduleMiss(ctx context.Context, tx pgx.Tx, slotID, doctorID uuid.UUID) error {
	var owner uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT doctor_id FROM availability_slots WHERE id = $1
	`, slotID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSlotNotFound
	}
	if err != nil {
		return err
	}
	if owner != doctorID {
		return validationf("a reschedule must stay with the same doctor")
	}
	return ErrSlotTaken
}

// setStatus is the status compare-and-swap. A miss means the appointment
// moved on concurrently, or never existed.
func setStatus(ctx context.Context, q querier, id uuid.UUID, from, to Status, notes string) (*Appointment, error) {
	updated, err := scanAppointment(q.QueryRow(ctx, `
		WITH a AS (
			UPDATE appointments
			SET status = $3,
			    notes = CASE WHEN $4::text = '' THEN notes ELSE $4::text END,
			    updated_at = now()
			WHERE id = $1
			  AND status = $2
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM a JOIN availability_slots s ON s.id = a.slot_id
	`, id, string(from), string(to), notes))
	if !errors.Is(err, ErrAppointmentNotFound) {
		return updated, err
	}

	current, err := getAppointment(ctx, q, id, false)
	if err != nil {
		return nil, err
	}
	return nil, InvalidTransition(current.Status, to)
}

func (r *PgRepository) TransitionStatus(ctx context.Context, ch StatusChange) (*Appointment, error) {
	var updated *Appointment
	err := r.run(ctx, "update appointment status", func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var err error
			updated, err = setStatus(ctx, tx, ch.AppointmentID, ch.From, ch.To, ch.Notes)
			if err != nil {
				return err
			}
			if !ch.ReopenSlot {
				return nil
			}
			_, err = tx.Exec(ctx, `
				UPDATE availability_slots
				SET is_booked = false,
				    updated_at = now()
				WHERE id = $1
			`, updated.SlotID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
