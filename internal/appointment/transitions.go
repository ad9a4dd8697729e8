package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UpdateStatus applies one state-machine transition. Confirming a
// prepayment doctor's appointment asks the payment gate first; marking a
// no-show waits until the appointment has ended.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, notes string) (updated *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.update_status", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("to", string(to)),
	))
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return nil, validationf("unknown appointment status %q", to)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	reopen := to == StatusCancelled && s.cfg.CancelReopensSlot
	return s.transition(ctx, appt, to, notes, reopen)
}

func (s *Service) transition(ctx context.Context, appt *Appointment, to Status, notes string, reopen bool) (*Appointment, error) {
	from := appt.Status
	if !CanTransition(from, to) {
		return nil, InvalidTransition(from, to)
	}

	switch to {
	case StatusConfirmed:
		if err := s.checkPaid(ctx, appt); err != nil {
			return nil, err
		}
	case StatusNoShow:
		if appt.EndsAt(s.loc).After(s.now()) {
			return nil, &Error{kind: ErrTransitionInvalid, msg: "cannot mark a no-show before the appointment has ended"}
		}
	}

	updated, err := s.repo.TransitionStatus(ctx, StatusChange{
		AppointmentID: appt.ID,
		From:          from,
		To:            to,
		ReopenSlot:    reopen,
		Notes:         notes,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, transitionEvent(updated, from, s.loc))
	s.metrics.ObserveTransition(string(from), string(to))
	s.logger.Info().
		Str("appointment_id", updated.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Bool("slot_reopened", reopen).
		Msg("appointment status changed")
	return updated, nil
}

// maxRescheduleHops bounds the walk back through RescheduledFrom.
const maxRescheduleHops = 10

// checkPaid accepts a payment recorded against the appointment or against
// any appointment it was rescheduled from, since the payment stays with
// the visit rather than the slot.
func (s *Service) checkPaid(ctx context.Context, appt *Appointment) error {
	doctor, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return err
	}
	if !doctor.RequiresPrepayment {
		return nil
	}
	if s.gate == nil {
		return ErrPrepaymentMissing
	}

	current := appt
	for hop := 0; ; hop++ {
		paid, err := s.gate.IsPaid(ctx, current.ID)
		if err != nil {
			return persistenceError("check payment", err)
		}
		if paid {
			return nil
		}
		if current.RescheduledFrom == nil || hop == maxRescheduleHops {
			return ErrPrepaymentMissing
		}
		current, err = s.repo.GetAppointmentByID(ctx, *current.RescheduledFrom)
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrPrepaymentMissing
		}
		if err != nil {
			return err
		}
	}
}

// OnPaymentCompleted is the payment collaborator's push callback. With
// auto-confirm enabled a scheduled appointment moves to confirmed; anything
// else is left alone and returned as is.
func (s *Service) OnPaymentCompleted(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !s.cfg.AutoConfirmOnPayment || appt.Status != StatusScheduled {
		return appt, nil
	}

	updated, err := s.transition(ctx, appt, StatusConfirmed, "", false)
	if errors.Is(err, ErrTransitionInvalid) {
		// Someone else moved it first.
		return s.repo.GetAppointmentByID(ctx, appointmentID)
	}
	return updated, err
}
