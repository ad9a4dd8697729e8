// Package apptest provides an in-memory appointment.Repository with the
// same atomicity and uniqueness guarantees as the Postgres store, for
// service and handler tests.
package apptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// MemoryRepository serializes every operation on one mutex, which makes
// each method trivially atomic.
type MemoryRepository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]appointment.Patient
	doctors      map[uuid.UUID]appointment.Doctor
	slots        map[uuid.UUID]appointment.AvailabilitySlot
	appointments map[uuid.UUID]appointment.Appointment
	order        []uuid.UUID

	// FailClaim, when set, is consulted right before a slot is claimed by
	// ClaimSlot or Reschedule. A non-nil error aborts the whole operation.
	FailClaim func(slotID uuid.UUID) error
}

var _ appointment.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     map[uuid.UUID]appointment.Patient{},
		doctors:      map[uuid.UUID]appointment.Doctor{},
		slots:        map[uuid.UUID]appointment.AvailabilitySlot{},
		appointments: map[uuid.UUID]appointment.Appointment{},
	}
}

func (m *MemoryRepository) AddPatient(p appointment.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *MemoryRepository) AddDoctor(d appointment.Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

// Slot returns a copy of the stored slot.
func (m *MemoryRepository) Slot(id uuid.UUID) (appointment.AvailabilitySlot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	return s, ok
}

// Appointments returns every stored appointment in creation order.
func (m *MemoryRepository) Appointments() []appointment.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]appointment.Appointment, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.appointments[id])
	}
	return out
}

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	d.Breaks = append([]schedule.Window(nil), d.Breaks...)
	return &d, nil
}

func (m *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*appointment.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, appointment.ErrSlotNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) ListAppointments(_ context.Context, f appointment.AppointmentFilter) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Appointment
	for _, id := range m.order {
		a := m.appointments[id]
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.SlotID != nil && a.SlotID != *f.SlotID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartsAt(time.UTC).After(out[j].StartsAt(time.UTC))
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) InsertSlot(_ context.Context, ns appointment.NewSlot) (*appointment.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doctors[ns.DoctorID]; !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	date := schedule.DateOf(ns.Date)
	w := schedule.Window{Start: ns.StartTime, End: ns.EndTime}
	for _, s := range m.slots {
		if s.DoctorID == ns.DoctorID && s.IsActive && s.Date.Equal(date) && s.Window().Overlaps(w) {
			return nil, appointment.ErrSlotOverlap
		}
	}

	now := time.Now().UTC()
	slot := appointment.AvailabilitySlot{
		ID:        ns.ID,
		DoctorID:  ns.DoctorID,
		Date:      date,
		StartTime: ns.StartTime,
		EndTime:   ns.EndTime,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.slots[slot.ID] = slot
	return &slot, nil
}

func (m *MemoryRepository) UpdateSlot(_ context.Context, su appointment.SlotUpdate) (*appointment.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[su.ID]
	if !ok || !s.IsActive {
		return nil, appointment.ErrSlotNotFound
	}
	if s.IsBooked {
		return nil, appointment.ErrSlotBooked
	}
	date := schedule.DateOf(su.Date)
	w := schedule.Window{Start: su.StartTime, End: su.EndTime}
	for _, other := range m.slots {
		if other.ID != s.ID && other.DoctorID == s.DoctorID && other.IsActive &&
			other.Date.Equal(date) && other.Window().Overlaps(w) {
			return nil, appointment.ErrSlotOverlap
		}
	}

	s.Date = date
	s.StartTime = su.StartTime
	s.EndTime = su.EndTime
	s.UpdatedAt = time.Now().UTC()
	m.slots[s.ID] = s
	return &s, nil
}

func (m *MemoryRepository) ListAvailableSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.AvailabilitySlot, error) {
	return m.listSlots(doctorID, from, to, true), nil
}

func (m *MemoryRepository) ListActiveSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.AvailabilitySlot, error) {
	return m.listSlots(doctorID, from, to, false), nil
}

func (m *MemoryRepository) listSlots(doctorID uuid.UUID, from, to time.Time, onlyOpen bool) []appointment.AvailabilitySlot {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := schedule.DateRange{From: schedule.DateOf(from), To: schedule.DateOf(to)}
	var out []appointment.AvailabilitySlot
	for _, s := range m.slots {
		if s.DoctorID != doctorID || !s.IsActive || !r.Contains(s.Date) {
			continue
		}
		if onlyOpen && s.IsBooked {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (m *MemoryRepository) DeactivateSlot(_ context.Context, slotID uuid.UUID) (*appointment.AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok {
		return nil, appointment.ErrSlotNotFound
	}
	if !s.IsActive {
		return &s, nil
	}
	if s.IsBooked {
		for _, a := range m.appointments {
			if a.SlotID == slotID && a.Status != appointment.StatusCancelled {
				return nil, appointment.ErrSlotHasAppointment
			}
		}
	}
	s.IsActive = false
	s.UpdatedAt = time.Now().UTC()
	m.slots[slotID] = s
	return &s, nil
}

func (m *MemoryRepository) FindOpenAppointmentForSlot(_ context.Context, slotID uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.openAppointmentLocked(slotID); a != nil {
		return a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (m *MemoryRepository) openAppointmentLocked(slotID uuid.UUID) *appointment.Appointment {
	for _, a := range m.appointments {
		if a.SlotID == slotID && a.Status.Open() {
			return &a
		}
	}
	return nil
}

func (m *MemoryRepository) ClaimSlot(_ context.Context, c appointment.Claim) (*appointment.ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.IdempotencyKey != nil {
		for _, a := range m.appointments {
			if a.PatientID != c.PatientID || a.IdempotencyKey == nil || *a.IdempotencyKey != *c.IdempotencyKey {
				continue
			}
			if a.SlotID != c.SlotID || a.DoctorID != c.DoctorID {
				return nil, appointment.ErrIdempotencyMismatch
			}
			return &appointment.ClaimResult{Appointment: &a, Replayed: true}, nil
		}
	}
	if _, ok := m.patients[c.PatientID]; !ok {
		return nil, appointment.ErrPatientNotFound
	}

	slot, err := m.claimLocked(c.SlotID, c.DoctorID)
	if err != nil {
		return nil, err
	}

	a := m.insertLocked(c, slot, nil)
	return &appointment.ClaimResult{Appointment: &a}, nil
}

// claimLocked is the compare-and-swap on the slot row.
func (m *MemoryRepository) claimLocked(slotID, doctorID uuid.UUID) (appointment.AvailabilitySlot, error) {
	s, ok := m.slots[slotID]
	if !ok || s.DoctorID != doctorID {
		return s, appointment.ErrSlotNotFound
	}
	if !s.IsActive || s.IsBooked {
		return s, appointment.ErrSlotTaken
	}
	if m.FailClaim != nil {
		if err := m.FailClaim(slotID); err != nil {
			return s, err
		}
	}
	for _, a := range m.appointments {
		if a.SlotID == slotID && a.Status.Live() {
			return s, appointment.ErrSlotTaken
		}
	}
	s.IsBooked = true
	s.UpdatedAt = time.Now().UTC()
	m.slots[slotID] = s
	return s, nil
}

func (m *MemoryRepository) insertLocked(c appointment.Claim, slot appointment.AvailabilitySlot, from *uuid.UUID) appointment.Appointment {
	now := time.Now().UTC()
	a := appointment.Appointment{
		ID:              c.AppointmentID,
		DoctorID:        c.DoctorID,
		PatientID:       c.PatientID,
		SlotID:          c.SlotID,
		Status:          appointment.StatusScheduled,
		Reason:          c.Reason,
		RescheduledFrom: from,
		IdempotencyKey:  c.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
		Date:            slot.Date,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
	}
	m.appointments[a.ID] = a
	m.order = append(m.order, a.ID)
	return a
}

func (m *MemoryRepository) Reschedule(_ context.Context, rc appointment.RescheduleClaim) (*appointment.RescheduleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.appointments[rc.AppointmentID]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if !old.Status.Open() {
		return nil, appointment.InvalidTransition(old.Status, appointment.StatusCancelled)
	}
	if old.SlotID == rc.NewSlotID {
		return nil, appointment.NewError(appointment.ErrValidation, "appointment already holds this slot")
	}
	if s, ok := m.slots[rc.NewSlotID]; ok && s.DoctorID != old.DoctorID {
		return nil, appointment.NewError(appointment.ErrValidation, "a reschedule must stay with the same doctor")
	}

	// Nothing is written until the claim succeeds.
	newSlot, err := m.claimLocked(rc.NewSlotID, old.DoctorID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cancelled := old
	cancelled.Status = appointment.StatusCancelled
	cancelled.UpdatedAt = now
	m.appointments[old.ID] = cancelled

	oldSlot := m.slots[old.SlotID]
	oldSlot.IsBooked = false
	oldSlot.UpdatedAt = now
	m.slots[old.SlotID] = oldSlot

	oldID := old.ID
	booked := m.insertLocked(appointment.Claim{
		AppointmentID: rc.NewAppointmentID,
		DoctorID:      old.DoctorID,
		SlotID:        rc.NewSlotID,
		PatientID:     old.PatientID,
		Reason:        old.Reason,
	}, newSlot, &oldID)

	return &appointment.RescheduleResult{
		Cancelled:      &cancelled,
		Booked:         &booked,
		PreviousStatus: old.Status,
	}, nil
}

func (m *MemoryRepository) TransitionStatus(_ context.Context, ch appointment.StatusChange) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[ch.AppointmentID]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != ch.From {
		return nil, appointment.InvalidTransition(a.Status, ch.To)
	}

	a.Status = ch.To
	if ch.Notes != "" {
		a.Notes = ch.Notes
	}
	a.UpdatedAt = time.Now().UTC()
	m.appointments[a.ID] = a

	if ch.ReopenSlot {
		s := m.slots[a.SlotID]
		s.IsBooked = false
		s.UpdatedAt = a.UpdatedAt
		m.slots[a.SlotID] = s
	}
	return &a, nil
}

// wallClock reads an appointment's date and clock as a zone-less instant,
// the way the sweeps compare them.
func wallClock(date time.Time, c schedule.Clock) time.Time {
	return schedule.At(date, c, time.UTC)
}

func (m *MemoryRepository) FindEndedBefore(_ context.Context, status appointment.Status, before time.Time, limit int) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Appointment
	for _, id := range m.order {
		a := m.appointments[id]
		if a.Status == status && wallClock(a.Date, a.EndTime).Before(before) {
			out = append(out, a)
		}
	}
	return truncate(out, limit), nil
}

func (m *MemoryRepository) FindDueReminders(_ context.Context, from, to time.Time, limit int) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Appointment
	for _, id := range m.order {
		a := m.appointments[id]
		if a.Status != appointment.StatusConfirmed || a.RemindedAt != nil {
			continue
		}
		start := wallClock(a.Date, a.StartTime)
		if !start.Before(from) && start.Before(to) {
			out = append(out, a)
		}
	}
	return truncate(out, limit), nil
}

func (m *MemoryRepository) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.RemindedAt != nil {
		return false, nil
	}
	a.RemindedAt = &at
	m.appointments[id] = a
	return true, nil
}

func truncate(in []appointment.Appointment, limit int) []appointment.Appointment {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
