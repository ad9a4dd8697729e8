// Package schedule turns clinic hours into bookable slot candidates.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalid marks malformed hours, clocks or ranges.
var ErrInvalid = errors.New("invalid schedule input")

// Hours describes one doctor's working day.
type Hours struct {
	Open         Clock
	Close        Clock
	SlotDuration time.Duration
	Breaks       []Window
}

func (h Hours) Validate() error {
	if h.Open < 0 || h.Close > EndOfDay {
		return fmt.Errorf("%w: clinic hours %s-%s out of range", ErrInvalid, h.Open, h.Close)
	}
	if h.Open >= h.Close {
		return fmt.Errorf("%w: opening time %s must be before closing time %s", ErrInvalid, h.Open, h.Close)
	}
	if h.SlotDuration <= 0 || h.SlotDuration%time.Minute != 0 {
		return fmt.Errorf("%w: slot duration %s must be a positive number of minutes", ErrInvalid, h.SlotDuration)
	}

	breaks := h.sortedBreaks()
	for i, b := range breaks {
		if !b.Valid() {
			return fmt.Errorf("%w: break %s is empty or inverted", ErrInvalid, b)
		}
		if b.Start < h.Open || b.End > h.Close {
			return fmt.Errorf("%w: break %s falls outside clinic hours %s-%s", ErrInvalid, b, h.Open, h.Close)
		}
		if i > 0 && breaks[i-1].Overlaps(b) {
			return fmt.Errorf("%w: breaks %s and %s overlap", ErrInvalid, breaks[i-1], b)
		}
	}
	return nil
}

func (h Hours) sortedBreaks() []Window {
	out := append([]Window(nil), h.Breaks...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Candidate is a generated slot that has not been persisted yet.
type Candidate struct {
	Date  time.Time
	Start Clock
	End   Clock
}

func (c Candidate) Window() Window { return Window{Start: c.Start, End: c.End} }

// StartsAt is the absolute start instant in the clinic's zone.
func (c Candidate) StartsAt(loc *time.Location) time.Time {
	return At(c.Date, c.Start, loc)
}

// DaySlots lays out the slots of a single day ignoring the calendar: step
// from opening by the slot duration, keep [t, t+d) when it ends by closing
// time and touches no break at all.
func DaySlots(h Hours) ([]Window, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	step := Clock(h.SlotDuration / time.Minute)
	breaks := h.sortedBreaks()

	var out []Window
	for t := h.Open; t+step <= h.Close; t += step {
		w := Window{Start: t, End: t + step}
		if intersectsAny(w, breaks) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// GenerateSlots produces the candidates for every date in r. Slots that
// start at or before now (in loc) are left out. The result is ordered by
// date then start time and depends only on its arguments.
func GenerateSlots(h Hours, r DateRange, now time.Time, loc *time.Location) ([]Candidate, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	day, err := DaySlots(h)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	out := make([]Candidate, 0, len(day)*r.Days())
	for _, date := range r.Dates() {
		for _, w := range day {
			if !At(date, w.Start, loc).After(now) {
				continue
			}
			out = append(out, Candidate{Date: date, Start: w.Start, End: w.End})
		}
	}
	return out, nil
}

func intersectsAny(w Window, breaks []Window) bool {
	for _, b := range breaks {
		if w.Overlaps(b) {
			return true
		}
	}
	return false
}
