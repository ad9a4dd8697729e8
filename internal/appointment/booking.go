package appointment

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type BookingRequest struct {
	DoctorID       uuid.UUID
	SlotID         uuid.UUID
	PatientID      uuid.UUID
	Reason         string
	IdempotencyKey string
}

func (r BookingRequest) validate() error {
	switch {
	case r.DoctorID == uuid.Nil:
		return validationf("doctor_id is required")
	case r.SlotID == uuid.Nil:
		return validationf("slot_id is required")
	case r.PatientID == uuid.Nil:
		return validationf("patient_id is required")
	case utf8.RuneCountInString(r.Reason) > maxReasonLength:
		return validationf("reason must be at most %d characters", maxReasonLength)
	case len(r.IdempotencyKey) > maxIdempotencyKeyLength:
		return validationf("idempotency key must be at most %d bytes", maxIdempotencyKeyLength)
	}
	return nil
}

// BookSlot claims an available slot for a patient. A caller that loses the
// race gets ErrSlotTaken and should re-query availability; there is no
// retry on the same slot. Repeating a request with the same idempotency key
// returns the original appointment with Replayed set.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (res *ClaimResult, err error) {
	ctx, span := s.startSpan(ctx, "booking.book_slot", trace.WithAttributes(
		attribute.String("doctor_id", req.DoctorID.String()),
		attribute.String("slot_id", req.SlotID.String()),
	))
	started := time.Now()
	defer func() {
		outcome := KindName(err)
		if res != nil && res.Replayed {
			outcome = "replayed"
		}
		s.metrics.ObserveBooking("book", outcome, time.Since(started).Seconds())
		endSpan(span, err)
	}()

	req.Reason = strings.TrimSpace(req.Reason)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := req.validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.DoctorID != req.DoctorID {
		return nil, ErrSlotNotFound
	}
	// A slot that is already taken goes through anyway: the store decides
	// between an idempotent replay and ErrSlotTaken.
	if slot.Bookable() {
		if err := s.checkBookable(slot); err != nil {
			return nil, err
		}
	}

	claim := Claim{
		AppointmentID: s.newID(),
		DoctorID:      req.DoctorID,
		SlotID:        req.SlotID,
		PatientID:     req.PatientID,
		Reason:        req.Reason,
	}
	if req.IdempotencyKey != "" {
		claim.IdempotencyKey = &req.IdempotencyKey
	}

	res, err = withSlotLock(ctx, s, req.SlotID, func(ctx context.Context) (*ClaimResult, error) {
		return s.repo.ClaimSlot(ctx, claim)
	})
	if err != nil {
		s.logger.Debug().Err(err).
			Str("slot_id", req.SlotID.String()).
			Str("patient_id", req.PatientID.String()).
			Msg("booking rejected")
		return nil, err
	}

	if res.Replayed {
		s.logger.Info().
			Str("appointment_id", res.Appointment.ID.String()).
			Msg("booking replayed from idempotency key")
		return res, nil
	}

	appt := res.Appointment
	ev := transitionEvent(appt, "", s.loc)
	ev.Type = EventAppointmentBooked
	s.emit(ctx, ev)

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", appt.SlotID.String()).
		Str("patient_id", appt.PatientID.String()).
		Msg("appointment booked")
	return res, nil
}

// withSlotLock runs fn under the Redis slot lock when one is configured. A
// lock held elsewhere means another booking is in flight for the slot; a
// Redis outage falls back to the database alone.
func withSlotLock[T any](ctx context.Context, s *Service, slotID uuid.UUID, fn func(ctx context.Context) (T, error)) (T, error) {
	if s.locker == nil {
		return fn(ctx)
	}

	var (
		res  T
		zero T
	)
	err := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		var err error
		res, err = fn(lockCtx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return zero, ErrSlotTaken
	case errors.Is(err, redisclient.ErrLockBackend):
		s.logger.Warn().Err(err).Str("slot_id", slotID.String()).Msg("slot lock unavailable, booking without it")
		return fn(ctx)
	case err != nil:
		return zero, err
	}
	return res, nil
}

// RescheduleAppointment moves an open appointment to another slot of the
// same doctor. The old appointment is cancelled and a new scheduled one
// created, atomically.
func (s *Service) RescheduleAppointment(ctx context.Context, appointmentID, newSlotID uuid.UUID) (res *RescheduleResult, err error) {
	ctx, span := s.startSpan(ctx, "booking.reschedule", trace.WithAttributes(
		attribute.String("appointment_id", appointmentID.String()),
		attribute.String("new_slot_id", newSlotID.String()),
	))
	started := time.Now()
	defer func() {
		s.metrics.ObserveBooking("reschedule", KindName(err), time.Since(started).Seconds())
		endSpan(span, err)
	}()

	if newSlotID == uuid.Nil {
		return nil, validationf("new_slot_id is required")
	}

	slot, err := s.repo.GetSlotByID(ctx, newSlotID)
	if err != nil {
		return nil, err
	}
	if slot.Bookable() {
		if err := s.checkBookable(slot); err != nil {
			return nil, err
		}
	}

	res, err = withSlotLock(ctx, s, newSlotID, func(ctx context.Context) (*RescheduleResult, error) {
		return s.repo.Reschedule(ctx, RescheduleClaim{
			AppointmentID:    appointmentID,
			NewSlotID:        newSlotID,
			NewAppointmentID: s.newID(),
		})
	})
	if err != nil {
		return nil, err
	}

	oldID := res.Cancelled.ID
	newID := res.Booked.ID

	cancelEv := transitionEvent(res.Cancelled, res.PreviousStatus, s.loc)
	cancelEv.RelatedID = &newID
	s.emit(ctx, cancelEv)

	bookEv := transitionEvent(res.Booked, "", s.loc)
	bookEv.Type = EventAppointmentRescheduled
	bookEv.RelatedID = &oldID
	s.emit(ctx, bookEv)

	s.metrics.ObserveTransition(string(res.PreviousStatus), string(StatusCancelled))
	s.logger.Info().
		Str("old_appointment_id", oldID.String()).
		Str("new_appointment_id", newID.String()).
		Str("new_slot_id", newSlotID.String()).
		Msg("appointment rescheduled")
	return res, nil
}
