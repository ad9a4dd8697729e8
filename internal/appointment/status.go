package appointment

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// transitions is the whole state machine. Rescheduling is not a state: it
// cancels one appointment and books another.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusCompleted: nil,
	StatusCancelled: nil,
	StatusNoShow:    nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Open statuses hold their slot and can still be cancelled or rescheduled.
func (s Status) Open() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Live statuses count against the one-claim-per-slot rule.
func (s Status) Live() bool {
	return s.Open() || s == StatusCompleted
}

func (s Status) AllowedTransitions() []Status {
	return append([]Status(nil), transitions[s]...)
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus accepts the stored form and the display names used by clients
// ("NoShow", "Cancelled", ...).
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if norm == "noshow" {
		norm = string(StatusNoShow)
	}
	if norm == "canceled" {
		norm = string(StatusCancelled)
	}
	s := Status(norm)
	if !s.Valid() {
		return "", validationf("unknown appointment status %q", raw)
	}
	return s, nil
}

func (s Status) String() string { return string(s) }

// InvalidTransition is the ErrTransitionInvalid error for from -> to.
func InvalidTransition(from, to Status) error {
	return &Error{
		kind: ErrTransitionInvalid,
		msg:  fmt.Sprintf("cannot move appointment from %s to %s", from, to),
	}
}
