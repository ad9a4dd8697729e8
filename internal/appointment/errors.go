package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the service returns matches exactly one of these
// with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrNotFound          = errors.New("not found")
	ErrTransitionInvalid = errors.New("invalid status transition")
	ErrPaymentRequired   = errors.New("payment required")
	ErrPersistence       = errors.New("persistence failure")
)

var (
	ErrPatientNotFound     = &Error{kind: ErrNotFound, msg: "patient not found"}
	ErrDoctorNotFound      = &Error{kind: ErrNotFound, msg: "doctor not found"}
	ErrSlotNotFound        = &Error{kind: ErrNotFound, msg: "slot not found"}
	ErrAppointmentNotFound = &Error{kind: ErrNotFound, msg: "appointment not found"}

	ErrSlotOverlap         = &Error{kind: ErrConflict, msg: "slot overlaps an existing active slot"}
	ErrSlotHasAppointment  = &Error{kind: ErrConflict, msg: "slot is booked by an appointment that was not cancelled"}
	ErrSlotBooked          = &Error{kind: ErrConflict, msg: "a booked slot cannot be changed; reschedule the appointment instead"}
	ErrIdempotencyMismatch = &Error{kind: ErrConflict, msg: "idempotency key was already used for a different booking"}

	ErrSlotTaken = &Error{kind: ErrSlotUnavailable, msg: "this slot was just taken; choose another"}

	ErrPrepaymentMissing = &Error{kind: ErrPaymentRequired, msg: "doctor requires prepayment before the appointment can be confirmed"}
)

// Error ties a message to one of the kinds above and optionally to an
// underlying cause.
type Error struct {
	kind  error
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Kind returns the error kind, or nil for errors from outside the package.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation, ErrConflict, ErrSlotUnavailable, ErrNotFound,
		ErrTransitionInvalid, ErrPaymentRequired, ErrPersistence,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// NewError builds an error of the given kind, for Repository
// implementations outside this package.
func NewError(kind error, msg string) error {
	return &Error{kind: kind, msg: msg}
}

func validationf(format string, args ...any) error {
	return &Error{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func persistenceError(op string, cause error) error {
	return &Error{kind: ErrPersistence, msg: op + ": storage temporarily unavailable, retry", cause: cause}
}

// KindName is a stable snake_case label for an error's kind, used in API
// error codes and metric labels.
func KindName(err error) string {
	switch Kind(err) {
	case nil:
		if err == nil {
			return "success"
		}
		return "internal"
	case ErrValidation:
		return "validation_failed"
	case ErrConflict:
		return "conflict"
	case ErrSlotUnavailable:
		return "slot_unavailable"
	case ErrNotFound:
		return "not_found"
	case ErrTransitionInvalid:
		return "transition_invalid"
	case ErrPaymentRequired:
		return "payment_required"
	default:
		return "persistence_failure"
	}
}
