package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// NewSlot is a slot about to be published.
type NewSlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime schedule.Clock
	EndTime   schedule.Clock
}

// SlotUpdate moves a published slot. The doctor never changes.
type SlotUpdate struct {
	ID        uuid.UUID
	Date      time.Time
	StartTime schedule.Clock
	EndTime   schedule.Clock
}

// Claim books one slot for one patient.
type Claim struct {
	AppointmentID  uuid.UUID
	DoctorID       uuid.UUID
	SlotID         uuid.UUID
	PatientID      uuid.UUID
	Reason         string
	IdempotencyKey *string
}

// ClaimResult reports Replayed when the idempotency key matched an earlier
// booking and no new claim was made.
type ClaimResult struct {
	Appointment *Appointment
	Replayed    bool
}

type RescheduleClaim struct {
	AppointmentID    uuid.UUID
	NewSlotID        uuid.UUID
	NewAppointmentID uuid.UUID
}

type RescheduleResult struct {
	Cancelled *Appointment
	Booked    *Appointment
	// PreviousStatus is the old appointment's status before it was cancelled.
	PreviousStatus Status
}

// StatusChange is applied only if the appointment is still in From.
type StatusChange struct {
	AppointmentID uuid.UUID
	From          Status
	To            Status
	ReopenSlot    bool
	Notes         string
}

// Repository is the durable store. Every mutating method is a single
// atomic unit; the service never composes two of them and expects
// atomicity across the pair.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// Availability
	InsertSlot(ctx context.Context, s NewSlot) (*AvailabilitySlot, error)
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]AvailabilitySlot, error)
	// ListActiveSlots includes booked slots.
	ListActiveSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]AvailabilitySlot, error)
	// UpdateSlot refuses booked slots and treats inactive ones as missing.
	UpdateSlot(ctx context.Context, s SlotUpdate) (*AvailabilitySlot, error)
	DeactivateSlot(ctx context.Context, slotID uuid.UUID) (*AvailabilitySlot, error)
	FindOpenAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)

	// Booking
	ClaimSlot(ctx context.Context, c Claim) (*ClaimResult, error)
	Reschedule(ctx context.Context, r RescheduleClaim) (*RescheduleResult, error)
	TransitionStatus(ctx context.Context, ch StatusChange) (*Appointment, error)

	// Sweeps. Times are clinic wall-clock readings.
	FindEndedBefore(ctx context.Context, status Status, wallClock time.Time, limit int) ([]Appointment, error)
	// FindDueReminders returns confirmed, not yet reminded appointments
	// starting in [from, to).
	FindDueReminders(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}
