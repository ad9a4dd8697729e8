package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type PublishSlotRequest struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type GenerateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type PaymentWebhookRequest struct {
	AppointmentID string `json:"appointment_id"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	Status        string `json:"status"`
}

type SlotResponse struct {
	ID        uuid.UUID      `json:"id"`
	DoctorID  uuid.UUID      `json:"doctor_id"`
	Date      string         `json:"date"`
	Start     schedule.Clock `json:"start"`
	End       schedule.Clock `json:"end"`
	IsActive  bool           `json:"is_active"`
	IsBooked  bool           `json:"is_booked"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newSlotResponse(s *appointment.AvailabilitySlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Date:      s.Date.Format(schedule.DateLayout),
		Start:     s.StartTime,
		End:       s.EndTime,
		IsActive:  s.IsActive,
		IsBooked:  s.IsBooked,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type OpenSlot struct {
	SlotID uuid.UUID      `json:"slot_id"`
	Start  schedule.Clock `json:"start"`
	End    schedule.Clock `json:"end"`
}

type AvailabilityDay struct {
	Date  string     `json:"date"`
	Slots []OpenSlot `json:"slots"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID         `json:"doctor_id"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Days     []AvailabilityDay `json:"days"`
}

// newAvailabilityResponse groups slots by date. Slots arrive ordered by
// date and start time.
func newAvailabilityResponse(doctorID uuid.UUID, r schedule.DateRange, slots []appointment.AvailabilitySlot) AvailabilityResponse {
	resp := AvailabilityResponse{
		DoctorID: doctorID,
		From:     r.From.Format(schedule.DateLayout),
		To:       r.To.Format(schedule.DateLayout),
		Days:     []AvailabilityDay{},
	}
	for _, s := range slots {
		date := s.Date.Format(schedule.DateLayout)
		if n := len(resp.Days); n == 0 || resp.Days[n-1].Date != date {
			resp.Days = append(resp.Days, AvailabilityDay{Date: date})
		}
		day := &resp.Days[len(resp.Days)-1]
		day.Slots = append(day.Slots, OpenSlot{SlotID: s.ID, Start: s.StartTime, End: s.EndTime})
	}
	return resp
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	RescheduledFrom *uuid.UUID `json:"rescheduled_from,omitempty"`
	StartsAt        time.Time  `json:"starts_at"`
	EndsAt          time.Time  `json:"ends_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func newAppointmentResponse(a *appointment.Appointment, loc *time.Location) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		SlotID:          a.SlotID,
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		RescheduledFrom: a.RescheduledFrom,
		StartsAt:        a.StartsAt(loc),
		EndsAt:          a.EndsAt(loc),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type RevokeResponse struct {
	Slot                 SlotResponse         `json:"slot"`
	CancelledAppointment *AppointmentResponse `json:"cancelled_appointment,omitempty"`
}

type RescheduleResponse struct {
	Cancelled AppointmentResponse `json:"cancelled"`
	Booked    AppointmentResponse `json:"booked"`
}

type PaymentWebhookResponse struct {
	PaymentID   uuid.UUID            `json:"payment_id"`
	Status      string               `json:"status"`
	Appointment *AppointmentResponse `json:"appointment,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuggestedSlot points a losing booker at another open slot.
type SuggestedSlot struct {
	SlotID uuid.UUID      `json:"slot_id"`
	Date   string         `json:"date"`
	Start  schedule.Clock `json:"start"`
	End    schedule.Clock `json:"end"`
}

// SlotUnavailableResponse is the 409 body of a lost booking.
type SlotUnavailableResponse struct {
	ErrorResponse
	NextAvailable *SuggestedSlot `json:"next_available,omitempty"`
}
