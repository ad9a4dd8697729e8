package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// GenerateResult counts what GenerateAvailability did with each candidate.
type GenerateResult struct {
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

// PublishAvailability adds one slot for a doctor.
func (s *Service) PublishAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, start, end schedule.Clock) (slot *AvailabilitySlot, err error) {
	ctx, span := s.startSpan(ctx, "availability.publish", trace.WithAttributes(
		attribute.String("doctor_id", doctorID.String()),
		attribute.String("date", date.Format(schedule.DateLayout)),
	))
	defer func() {
		s.metrics.ObserveSlotChange("publish", KindName(err))
		endSpan(span, err)
	}()

	date = schedule.DateOf(date)
	w := schedule.Window{Start: start, End: end}
	if err := s.checkPublishable(date, w); err != nil {
		return nil, err
	}

	slot, err = s.repo.InsertSlot(ctx, NewSlot{
		ID:        s.newID(),
		DoctorID:  doctorID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("slot_id", slot.ID.String()).
		Str("date", date.Format(schedule.DateLayout)).
		Str("window", w.String()).
		Msg("slot published")
	return slot, nil
}

// UpdateAvailability moves an unbooked slot to a new date and window under
// the same rules as publishing.
func (s *Service) UpdateAvailability(ctx context.Context, slotID uuid.UUID, date time.Time, start, end schedule.Clock) (slot *AvailabilitySlot, err error) {
	ctx, span := s.startSpan(ctx, "availability.update", trace.WithAttributes(
		attribute.String("slot_id", slotID.String()),
		attribute.String("date", date.Format(schedule.DateLayout)),
	))
	defer func() {
		s.metrics.ObserveSlotChange("update", KindName(err))
		endSpan(span, err)
	}()

	date = schedule.DateOf(date)
	w := schedule.Window{Start: start, End: end}
	if err := s.checkPublishable(date, w); err != nil {
		return nil, err
	}

	slot, err = s.repo.UpdateSlot(ctx, SlotUpdate{
		ID:        slotID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("doctor_id", slot.DoctorID.String()).
		Str("slot_id", slot.ID.String()).
		Str("date", date.Format(schedule.DateLayout)).
		Str("window", w.String()).
		Msg("slot updated")
	return slot, nil
}

func (s *Service) checkPublishable(date time.Time, w schedule.Window) error {
	if !w.Valid() || w.End > schedule.EndOfDay {
		return validationf("slot end %s must be after start %s", w.End, w.Start)
	}
	if !schedule.At(date, w.Start, s.loc).After(s.now()) {
		return validationf("cannot publish a slot in the past (%s %s)", date.Format(schedule.DateLayout), w)
	}
	if date.After(s.horizonEnd()) {
		return validationf("cannot publish beyond the %d day booking horizon", s.horizonDays())
	}
	return nil
}

// nextAvailableDays is how far NextAvailableSlot looks ahead.
const nextAvailableDays = 14

// NextAvailableSlot suggests the doctor's earliest bookable slot starting
// from the date of the slot the caller just lost, skipping that slot. It
// returns nil when nothing is open within two weeks or the booking
// horizon, whichever ends first.
func (s *Service) NextAvailableSlot(ctx context.Context, doctorID, lostSlotID uuid.UUID) (*AvailabilitySlot, error) {
	from := s.today()
	lost, err := s.repo.GetSlotByID(ctx, lostSlotID)
	switch {
	case err == nil:
		if lost.Date.After(from) {
			from = lost.Date
		}
	case !errors.Is(err, ErrSlotNotFound):
		return nil, err
	}

	to := from.AddDate(0, 0, nextAvailableDays-1)
	if end := s.horizonEnd(); to.After(end) {
		to = end
	}
	if to.Before(from) {
		return nil, nil
	}

	slots, err := s.ListAvailableSlots(ctx, doctorID, schedule.DateRange{From: from, To: to})
	if err != nil {
		return nil, err
	}
	for i := range slots {
		if slots[i].ID != lostSlotID {
			return &slots[i], nil
		}
	}
	return nil, nil
}

// ListAvailableSlots returns active, unbooked slots that have not started,
// ordered by date and start time. The result is a read-committed snapshot.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, r schedule.DateRange) ([]AvailabilitySlot, error) {
	if err := r.Validate(); err != nil {
		return nil, validationf("%v", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	slots, err := s.repo.ListAvailableSlots(ctx, doctorID, r.From, r.To)
	if err != nil {
		return nil, err
	}

	now := s.now()
	open := slots[:0]
	for _, slot := range slots {
		if slot.StartsAt(s.loc).After(now) {
			open = append(open, slot)
		}
	}
	return open, nil
}

// RevokeAvailability soft-deletes a slot. A booked slot whose appointment
// was not cancelled is a conflict, whatever that appointment's status.
func (s *Service) RevokeAvailability(ctx context.Context, slotID uuid.UUID) (slot *AvailabilitySlot, err error) {
	ctx, span := s.startSpan(ctx, "availability.revoke", trace.WithAttributes(
		attribute.String("slot_id", slotID.String()),
	))
	defer func() {
		s.metrics.ObserveSlotChange("revoke", KindName(err))
		endSpan(span, err)
	}()

	slot, err = s.repo.DeactivateSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("slot_id", slotID.String()).Msg("slot revoked")
	return slot, nil
}

// ForceRevokeAvailability cancels whatever open appointment holds the slot,
// then revokes it. Completed and no-show holders are history and still
// conflict. The cancellation is a normal state-machine transition
// (one event) that leaves the slot booked so nobody can claim it in between.
func (s *Service) ForceRevokeAvailability(ctx context.Context, slotID uuid.UUID, reason string) (*AvailabilitySlot, *Appointment, error) {
	var cancelled *Appointment

	for attempt := 0; attempt < 2; attempt++ {
		holder, err := s.repo.FindOpenAppointmentForSlot(ctx, slotID)
		switch {
		case errors.Is(err, ErrAppointmentNotFound):
		case err != nil:
			return nil, nil, err
		default:
			notes := reason
			if notes == "" {
				notes = "availability revoked by clinic"
			}
			cancelled, err = s.transition(ctx, holder, StatusCancelled, notes, false)
			if err != nil && !errors.Is(err, ErrTransitionInvalid) {
				return nil, cancelled, err
			}
		}

		slot, err := s.RevokeAvailability(ctx, slotID)
		if errors.Is(err, ErrSlotHasAppointment) {
			// Booked between the lookup and the revoke.
			continue
		}
		return slot, cancelled, err
	}
	return nil, cancelled, ErrSlotHasAppointment
}

// GenerateAvailability materializes the doctor's clinic hours into slots
// for the range. Slots identical to an active one are skipped, so running
// it twice publishes nothing new.
func (s *Service) GenerateAvailability(ctx context.Context, doctorID uuid.UUID, r schedule.DateRange) (res GenerateResult, err error) {
	ctx, span := s.startSpan(ctx, "availability.generate", trace.WithAttributes(
		attribute.String("doctor_id", doctorID.String()),
		attribute.Int("days", r.Days()),
	))
	defer func() {
		span.SetAttributes(attribute.Int("created", res.Created), attribute.Int("skipped", res.Skipped))
		endSpan(span, err)
	}()

	if err := r.Validate(); err != nil {
		return res, validationf("%v", err)
	}
	if r.To.After(s.horizonEnd()) {
		return res, validationf("range ends beyond the %d day booking horizon", s.horizonDays())
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return res, err
	}

	candidates, err := schedule.GenerateSlots(doctor.Hours(), r, s.now(), s.loc)
	if err != nil {
		return res, validationf("doctor %s clinic hours: %v", doctorID, err)
	}

	existing, err := s.repo.ListActiveSlots(ctx, doctorID, r.From, r.To)
	if err != nil {
		return res, err
	}
	published := make(map[string]struct{}, len(existing))
	for _, slot := range existing {
		published[slotKey(slot.Date, slot.StartTime, slot.EndTime)] = struct{}{}
	}

	for _, c := range candidates {
		if _, ok := published[slotKey(c.Date, c.Start, c.End)]; ok {
			res.Skipped++
			continue
		}
		_, err := s.repo.InsertSlot(ctx, NewSlot{
			ID:        s.newID(),
			DoctorID:  doctorID,
			Date:      c.Date,
			StartTime: c.Start,
			EndTime:   c.End,
		})
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, ErrConflict):
			res.Conflicts++
		default:
			return res, err
		}
	}

	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Int("created", res.Created).
		Int("skipped", res.Skipped).
		Int("conflicts", res.Conflicts).
		Msg("availability generated")
	return res, nil
}

func slotKey(date time.Time, start, end schedule.Clock) string {
	return fmt.Sprintf("%s|%s|%s", date.Format(schedule.DateLayout), start, end)
}
