package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Doctor carries the clinic hours the slot generator works from.
type Doctor struct {
	ID                 uuid.UUID
	Name               string
	Specialty          *string
	ClinicOpen         schedule.Clock
	ClinicClose        schedule.Clock
	SlotDuration       time.Duration
	Breaks             []schedule.Window
	RequiresPrepayment bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (d Doctor) Hours() schedule.Hours {
	return schedule.Hours{
		Open:         d.ClinicOpen,
		Close:        d.ClinicClose,
		SlotDuration: d.SlotDuration,
		Breaks:       d.Breaks,
	}
}

type AvailabilitySlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime schedule.Clock
	EndTime   schedule.Clock
	IsActive  bool
	IsBooked  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s AvailabilitySlot) Window() schedule.Window {
	return schedule.Window{Start: s.StartTime, End: s.EndTime}
}

func (s AvailabilitySlot) StartsAt(loc *time.Location) time.Time {
	return schedule.At(s.Date, s.StartTime, loc)
}

// Bookable is the read-side view of the booking predicate. The write side
// re-checks it atomically in the store.
func (s AvailabilitySlot) Bookable() bool {
	return s.IsActive && !s.IsBooked
}

type Appointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	SlotID          uuid.UUID
	Status          Status
	Reason          string
	Notes           string
	RescheduledFrom *uuid.UUID
	IdempotencyKey  *string
	RemindedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Copied from the claimed slot.
	Date      time.Time
	StartTime schedule.Clock
	EndTime   schedule.Clock
}

func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return schedule.At(a.Date, a.StartTime, loc)
}

func (a Appointment) EndsAt(loc *time.Location) time.Time {
	return schedule.At(a.Date, a.EndTime, loc)
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	SlotID    *uuid.UUID
	Status    *Status
	Limit     int
	Offset    int
}
