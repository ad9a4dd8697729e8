package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

const defaultAvailabilityDays = 7

func (h *Handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := urlUUID(w, r, "id", "doctor_id")
	if !ok {
		return
	}

	q := r.URL.Query()
	from := h.svc.Today()
	if raw := q.Get("from"); raw != "" {
		d, err := schedule.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		from = d
	}
	to := from.AddDate(0, 0, defaultAvailabilityDays-1)
	if raw := q.Get("to"); raw != "" {
		d, err := schedule.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		to = d
	}

	rng, err := schedule.NewDateRange(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), doctorID, rng)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAvailabilityResponse(doctorID, rng, slots))
}

func (h *Handler) publishSlot(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := urlUUID(w, r, "id", "doctor_id")
	if !ok {
		return
	}
	var req PublishSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	date, start, end, ok := parseSlotRequest(w, req)
	if !ok {
		return
	}

	slot, err := h.svc.PublishAvailability(r.Context(), doctorID, date, start, end)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSlotResponse(slot))
}

// updateSlot moves an unbooked slot. The body matches publishSlot's.
func (h *Handler) updateSlot(w http.ResponseWriter, r *http.Request) {
	slotID, ok := urlUUID(w, r, "slotId", "slot_id")
	if !ok {
		return
	}
	var req PublishSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, start, end, ok := parseSlotRequest(w, req)
	if !ok {
		return
	}

	slot, err := h.svc.UpdateAvailability(r.Context(), slotID, date, start, end)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSlotResponse(slot))
}

func parseSlotRequest(w http.ResponseWriter, req PublishSlotRequest) (time.Time, schedule.Clock, schedule.Clock, bool) {
	date, err := schedule.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return time.Time{}, 0, 0, false
	}
	start, err := schedule.ParseClock(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return time.Time{}, 0, 0, false
	}
	end, err := schedule.ParseClock(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return time.Time{}, 0, 0, false
	}
	return date, start, end, true
}

func (h *Handler) generateSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := urlUUID(w, r, "id", "doctor_id")
	if !ok {
		return
	}
	var req GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	from, err := schedule.ParseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	to, err := schedule.ParseDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	rng, err := schedule.NewDateRange(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	res, err := h.svc.GenerateAvailability(r.Context(), doctorID, rng)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// revokeSlot soft-deletes a slot. With force=true an open appointment on
// the slot is cancelled first.
func (h *Handler) revokeSlot(w http.ResponseWriter, r *http.Request) {
	slotID, ok := urlUUID(w, r, "slotId", "slot_id")
	if !ok {
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "force must be a boolean")
			return
		}
		force = v
	}

	if !force {
		slot, err := h.svc.RevokeAvailability(r.Context(), slotID)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, RevokeResponse{Slot: newSlotResponse(slot)})
		return
	}

	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	slot, cancelled, err := h.svc.ForceRevokeAvailability(r.Context(), slotID, reason)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	resp := RevokeResponse{Slot: newSlotResponse(slot)}
	if cancelled != nil {
		a := newAppointmentResponse(cancelled, h.svc.Location())
		resp.CancelledAppointment = &a
	}
	writeJSON(w, http.StatusOK, resp)
}
