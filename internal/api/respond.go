package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// statusFor maps an error kind onto its HTTP status.
func statusFor(err error) int {
	switch appointment.Kind(err) {
	case appointment.ErrValidation:
		return http.StatusBadRequest
	case appointment.ErrConflict, appointment.ErrSlotUnavailable, appointment.ErrTransitionInvalid:
		return http.StatusConflict
	case appointment.ErrNotFound:
		return http.StatusNotFound
	case appointment.ErrPaymentRequired:
		return http.StatusPaymentRequired
	case appointment.ErrPersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	status := statusFor(err)
	code := appointment.KindName(err)
	message := err.Error()

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		message = "storage is temporarily unavailable; retry shortly"
	case http.StatusInternalServerError:
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	writeError(w, status, code, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "could not parse JSON"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeError(w, http.StatusBadRequest, "invalid_request_body", msg)
		return false
	}
	return true
}

func parseUUID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param, field string) (uuid.UUID, bool) {
	return parseUUID(w, chi.URLParam(r, param), field)
}

func optionalUUID(w http.ResponseWriter, raw, field string) (*uuid.UUID, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	id, ok := parseUUID(w, raw, field)
	if !ok {
		return nil, false
	}
	return &id, true
}
