package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/payment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/session"
)

const idempotencyHeader = "Idempotency-Key"

// PaymentRecorder stores payment-gateway callbacks.
type PaymentRecorder interface {
	Record(ctx context.Context, p payment.Payment) (*payment.Payment, error)
}

// PaymentCache is told when a payment changes so a stale "paid" answer is
// not served.
type PaymentCache interface {
	Invalidate(ctx context.Context, appointmentID uuid.UUID) error
}

type SessionIssuer interface {
	Ensure(ctx context.Context, appointmentID uuid.UUID, expiresAt time.Time) (*session.Keys, error)
	Revoke(ctx context.Context, appointmentID uuid.UUID) error
}

type Handler struct {
	svc          *appointment.Service
	payments     PaymentRecorder
	paymentCache PaymentCache
	sessions     SessionIssuer
	logger       zerolog.Logger
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	slotID, ok := parseUUID(w, req.SlotID, "slot_id")
	if !ok {
		return
	}
	patientID, ok := parseUUID(w, req.PatientID, "patient_id")
	if !ok {
		return
	}

	res, err := h.svc.BookSlot(r.Context(), appointment.BookingRequest{
		DoctorID:       doctorID,
		SlotID:         slotID,
		PatientID:      patientID,
		Reason:         req.Reason,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if errors.Is(err, appointment.ErrSlotUnavailable) {
		h.writeSlotUnavailable(w, r, err, doctorID, slotID)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	writeJSON(w, status, newAppointmentResponse(res.Appointment, h.svc.Location()))
}

// writeSlotUnavailable answers a lost booking with the doctor's next open
// slot when there is one. A failed lookup only drops the suggestion.
func (h *Handler) writeSlotUnavailable(w http.ResponseWriter, r *http.Request, err error, doctorID, slotID uuid.UUID) {
	resp := SlotUnavailableResponse{ErrorResponse: ErrorResponse{
		Error:   appointment.KindName(err),
		Message: err.Error(),
	}}
	next, lookupErr := h.svc.NextAvailableSlot(r.Context(), doctorID, slotID)
	switch {
	case lookupErr != nil:
		h.logger.Warn().Err(lookupErr).
			Str("request_id", GetRequestID(r.Context())).
			Str("doctor_id", doctorID.String()).
			Msg("next available slot lookup failed")
	case next != nil:
		resp.NextAvailable = &SuggestedSlot{
			SlotID: next.ID,
			Date:   next.Date.Format(schedule.DateLayout),
			Start:  next.StartTime,
			End:    next.EndTime,
		}
	}
	writeJSON(w, http.StatusConflict, resp)
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "appointment_id")
	if !ok {
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentResponse(appt, h.svc.Location()))
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		f  appointment.AppointmentFilter
		ok bool
	)
	if f.PatientID, ok = optionalUUID(w, q.Get("patient_id"), "patient_id"); !ok {
		return
	}
	if f.DoctorID, ok = optionalUUID(w, q.Get("doctor_id"), "doctor_id"); !ok {
		return
	}
	if raw := q.Get("status"); raw != "" {
		st, err := appointment.ParseStatus(raw)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		f.Status = &st
	}
	for param, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", param+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	list, err := h.svc.ListAppointments(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newAppointmentResponse(&list[i], h.svc.Location()))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "appointment_id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := appointment.ParseStatus(req.Status)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), id, to, strings.TrimSpace(req.Notes))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentResponse(appt, h.svc.Location()))
}

func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "appointment_id")
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	newSlotID, ok := parseUUID(w, req.NewSlotID, "new_slot_id")
	if !ok {
		return
	}

	res, err := h.svc.RescheduleAppointment(r.Context(), id, newSlotID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	loc := h.svc.Location()
	writeJSON(w, http.StatusOK, RescheduleResponse{
		Cancelled: newAppointmentResponse(res.Cancelled, loc),
		Booked:    newAppointmentResponse(res.Booked, loc),
	})
}

// getSession returns the chat and video keys for an open appointment.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence_failure", "session registry is not configured")
		return
	}
	id, ok := urlUUID(w, r, "id", "appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !appt.Status.Open() {
		h.revokeSession(r.Context(), appt.ID)
		writeServiceError(w, r, h.logger, appointment.NewError(appointment.ErrConflict,
			"sessions exist only for scheduled or confirmed appointments"))
		return
	}

	keys, err := h.sessions.Ensure(r.Context(), appt.ID, appt.EndsAt(h.svc.Location()))
	if err != nil {
		writeServiceError(w, r, h.logger, appointment.NewError(appointment.ErrPersistence, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) revokeSession(ctx context.Context, id uuid.UUID) {
	if h.sessions == nil {
		return
	}
	if err := h.sessions.Revoke(ctx, id); err != nil {
		h.logger.Warn().Err(err).Str("appointment_id", id.String()).Msg("session revoke failed")
	}
}

// paymentWebhook is the payment collaborator's push callback. Completed
// payments may auto-confirm the appointment.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence_failure", "payments are not configured")
		return
	}
	var req PaymentWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	apptID, ok := parseUUID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}

	p, err := h.payments.Record(r.Context(), payment.Payment{
		AppointmentID: apptID,
		TransactionID: req.TransactionID,
		AmountCents:   req.AmountCents,
		Status:        payment.Status(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if h.paymentCache != nil {
		if err := h.paymentCache.Invalidate(r.Context(), apptID); err != nil {
			h.logger.Warn().Err(err).Str("appointment_id", apptID.String()).Msg("payment cache invalidate failed")
		}
	}

	resp := PaymentWebhookResponse{PaymentID: p.ID, Status: string(p.Status)}
	if p.Status == payment.StatusCompleted {
		appt, err := h.svc.OnPaymentCompleted(r.Context(), apptID)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		a := newAppointmentResponse(appt, h.svc.Location())
		resp.Appointment = &a
	}
	writeJSON(w, http.StatusOK, resp)
}
