package schedule

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// MaxRangeDays caps how many days a single generation or listing may span.
const MaxRangeDays = 366

// DateOf returns the civil date of t as midnight UTC, the canonical
// representation used for slot dates.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalid, s)
	}
	return t, nil
}

// At places a clock reading on a civil date in loc.
func At(date time.Time, c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc)
}

// DateRange is an inclusive range of civil dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: DateOf(from), To: DateOf(to)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: date range needs both from and to", ErrInvalid)
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("%w: range end %s is before start %s", ErrInvalid, r.To.Format(DateLayout), r.From.Format(DateLayout))
	}
	if r.Days() > MaxRangeDays {
		return fmt.Errorf("%w: range spans more than %d days", ErrInvalid, MaxRangeDays)
	}
	return nil
}

func (r DateRange) Days() int {
	return int(DateOf(r.To).Sub(DateOf(r.From))/(24*time.Hour)) + 1
}

// Dates lists every civil date in the range in ascending order.
func (r DateRange) Dates() []time.Time {
	n := r.Days()
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	for d := DateOf(r.From); !d.After(DateOf(r.To)); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func (r DateRange) Contains(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(DateOf(r.From)) && !d.After(DateOf(r.To))
}
