package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

var tracer = otel.Tracer("clinic/appointment")

const (
	maxReasonLength         = 500
	maxIdempotencyKeyLength = 128
	defaultListLimit        = 20
	maxListLimit            = 100
)

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	loc     *time.Location
	gate    PaymentGate
	emitter Emitter
	metrics *metrics.BookingMetrics
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() uuid.UUID
}

type Option func(*Service)

func WithPaymentGate(g PaymentGate) Option { return func(s *Service) { s.gate = g } }

func WithEmitter(e Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires the booking core. locker may be nil, in which case
// bookings go straight to the database.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		loc:     cfg.Location(),
		emitter: nopEmitter{},
		logger:  zerolog.Nop(),
		now:     time.Now,
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Location() *time.Location { return s.loc }

// today is the current civil date in the clinic zone.
func (s *Service) today() time.Time {
	return schedule.DateOf(s.now().In(s.loc))
}

func (s *Service) Today() time.Time { return s.today() }

func (s *Service) horizonEnd() time.Time {
	return s.today().Add(s.cfg.BookingHorizon)
}

// wallClock re-expresses t as a clinic wall-clock reading with no zone,
// matching how slot dates and clocks are stored.
func (s *Service) wallClock(t time.Time) time.Time {
	l := t.In(s.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
}

// checkBookable rejects slots that have started or lie past the horizon.
func (s *Service) checkBookable(slot *AvailabilitySlot) error {
	if !slot.StartsAt(s.loc).After(s.now()) {
		return validationf("slot %s has already started", slot.ID)
	}
	if slot.Date.After(s.horizonEnd()) {
		return validationf("slot %s is beyond the %d day booking horizon", slot.ID, s.horizonDays())
	}
	return nil
}

func (s *Service) horizonDays() int {
	return int(s.cfg.BookingHorizon / (24 * time.Hour))
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = s.newID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	s.emitter.Emit(context.WithoutCancel(ctx), ev)
}

func transitionEvent(a *Appointment, from Status, loc *time.Location) Event {
	return Event{
		Type:          EventAppointmentTransition,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		SlotID:        a.SlotID,
		OldStatus:     from,
		NewStatus:     a.Status,
		StartsAt:      a.StartsAt(loc),
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, attrs...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindName(err))
	}
	span.End()
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListAppointments requires a patient or doctor filter.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	if f.PatientID == nil && f.DoctorID == nil {
		return nil, validationf("patient_id or doctor_id is required")
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, validationf("unknown appointment status %q", *f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.ListAppointments(ctx, f)
}
