package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentTransition  = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentReminder    = "APPOINTMENT_REMINDER"
)

// Event is emitted once per status change, including the initial booking
// (OldStatus empty).
type Event struct {
	ID            uuid.UUID  `json:"event_id"`
	Type          string     `json:"type"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	SlotID        uuid.UUID  `json:"slot_id"`
	OldStatus     Status     `json:"old_status,omitempty"`
	NewStatus     Status     `json:"new_status"`
	RelatedID     *uuid.UUID `json:"related_appointment_id,omitempty"`
	StartsAt      time.Time  `json:"starts_at"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Emitter receives appointment events. Emit is fire-and-forget: the core
// never waits on, or reads anything back from, the notification side.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// PaymentGate reports whether an appointment has a completed payment.
type PaymentGate interface {
	IsPaid(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}

type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, Event) {}
