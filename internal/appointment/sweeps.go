package appointment

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
)

const defaultSweepBatch = 200

// SweepNoShows moves confirmed appointments whose end time has passed to
// no-show. Intended to be called by the worker periodically.
func (s *Service) SweepNoShows(ctx context.Context) (n int, err error) {
	ctx, span := s.startSpan(ctx, "worker.sweep_no_shows")
	defer func() {
		span.SetAttributes(attribute.Int("transitioned", n))
		endSpan(span, err)
	}()

	ended, err := s.repo.FindEndedBefore(ctx, StatusConfirmed, s.wallClock(s.now()), defaultSweepBatch)
	if err != nil {
		return 0, err
	}

	for i := range ended {
		appt := &ended[i]
		_, err := s.transition(ctx, appt, StatusNoShow, "", false)
		switch {
		case err == nil:
			n++
			s.metrics.ObserveSweep("no_show", "transitioned")
		case errors.Is(err, ErrTransitionInvalid):
			// Completed or cancelled since the query.
			s.metrics.ObserveSweep("no_show", "skipped")
		default:
			s.metrics.ObserveSweep("no_show", "error")
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("no-show sweep failed")
		}
	}
	return n, nil
}

// SendReminders emits one reminder event per confirmed appointment starting
// within the reminder lead time. reminded_at makes it at-most-once across
// concurrent workers.
func (s *Service) SendReminders(ctx context.Context) (n int, err error) {
	ctx, span := s.startSpan(ctx, "worker.send_reminders")
	defer func() {
		span.SetAttributes(attribute.Int("reminders_sent", n))
		endSpan(span, err)
	}()

	now := s.now()
	from := s.wallClock(now)
	to := s.wallClock(now.Add(s.cfg.ReminderLead))

	due, err := s.repo.FindDueReminders(ctx, from, to, defaultSweepBatch)
	if err != nil {
		return 0, err
	}

	for i := range due {
		appt := &due[i]
		marked, err := s.repo.MarkReminded(ctx, appt.ID, now.UTC())
		if err != nil {
			s.metrics.ObserveSweep("reminder", "error")
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("mark reminded failed")
			continue
		}
		if !marked {
			s.metrics.ObserveSweep("reminder", "skipped")
			continue
		}

		ev := transitionEvent(appt, appt.Status, s.loc)
		ev.Type = EventAppointmentReminder
		s.emit(ctx, ev)
		s.metrics.ObserveSweep("reminder", "sent")
		n++
	}
	return n, nil
}
