package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/appointment/apptest"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-scheduling/internal/payment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/session"
)

// Monday 2026-03-02 08:00 UTC; bookings go on Tuesday.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const tuesday = "2026-03-03"

// memPayments records payments and doubles as the payment gate.
type memPayments struct {
	mu   sync.Mutex
	paid map[uuid.UUID]bool
}

func (m *memPayments) Record(_ context.Context, p payment.Payment) (*payment.Payment, error) {
	if !p.Status.Valid() {
		return nil, appointment.NewError(appointment.ErrValidation, "unknown payment status")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid[p.AppointmentID] = p.Status == payment.StatusCompleted
	p.ID = uuid.New()
	return &p, nil
}

func (m *memPayments) IsPaid(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paid[id], nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type apiFixture struct {
	t       *testing.T
	repo    *apptest.MemoryRepository
	handler http.Handler
	doctor  appointment.Doctor
	patient uuid.UUID
	redis   *miniredis.Miniredis
}

func newAPIFixture(t *testing.T, prepay bool) *apiFixture {
	t.Helper()

	f := &apiFixture{t: t, repo: apptest.NewMemoryRepository()}
	f.doctor = appointment.Doctor{
		ID:                 uuid.New(),
		Name:               "Dr. Okafor",
		ClinicOpen:         schedule.NewClock(9, 0),
		ClinicClose:        schedule.NewClock(17, 0),
		SlotDuration:       30 * time.Minute,
		Breaks:             []schedule.Window{{Start: schedule.NewClock(13, 0), End: schedule.NewClock(14, 0)}},
		RequiresPrepayment: prepay,
	}
	f.repo.AddDoctor(f.doctor)
	f.patient = f.addPatient()

	payments := &memPayments{paid: map[uuid.UUID]bool{}}
	cfg := config.Config{
		Env:                  "test",
		ClinicTimezone:       "UTC",
		CancelReopensSlot:    true,
		BookingHorizon:       90 * 24 * time.Hour,
		AutoConfirmOnPayment: true,
		ReminderLead:         24 * time.Hour,
	}
	f.redis = miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sessions := session.NewRegistry(rdb)

	reg := prometheus.NewRegistry()
	svc := appointment.NewService(f.repo, nil, cfg,
		appointment.WithPaymentGate(payments),
		appointment.WithEmitter(sessions.Revoker(zerolog.Nop())),
		appointment.WithMetrics(metrics.NewBookingMetrics(reg)),
		appointment.WithNow(func() time.Time { return testNow }),
	)

	f.handler = api.NewRouter(api.RouterConfig{
		Service:  svc,
		Payments: payments,
		Sessions: sessions,
		Postgres: stubPinger{},
		Redis:    rdb,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
		Env:      "test",
		Version:  "test",
	})
	return f
}

func (f *apiFixture) addPatient() uuid.UUID {
	id := uuid.New()
	f.repo.AddPatient(appointment.Patient{ID: id, Name: "Patient " + id.String()[:8]})
	return id
}

func (f *apiFixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) publish(start, end string) api.SlotResponse {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/doctors/"+f.doctor.ID.String()+"/availability",
		api.PublishSlotRequest{Date: tuesday, Start: start, End: end})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.SlotResponse](f.t, rec)
}

func (f *apiFixture) book(slotID, patientID uuid.UUID, headers ...string) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "/appointments", api.CreateAppointmentRequest{
		DoctorID:  f.doctor.ID.String(),
		SlotID:    slotID.String(),
		PatientID: patientID.String(),
		Reason:    "follow-up",
	}, headers...)
}

func TestPublishAndListAvailability(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")
	assert.Equal(t, schedule.NewClock(9, 0), slot.Start)
	assert.True(t, slot.IsActive)

	rec := f.do(http.MethodPost, "/doctors/"+f.doctor.ID.String()+"/availability",
		api.PublishSlotRequest{Date: tuesday, Start: "09:15", End: "09:45"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[api.ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/availability?from="+tuesday+"&to="+tuesday, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode[api.AvailabilityResponse](t, rec)
	require.Len(t, avail.Days, 1)
	assert.Equal(t, tuesday, avail.Days[0].Date)
	require.Len(t, avail.Days[0].Slots, 1)
	assert.Equal(t, slot.ID, avail.Days[0].Slots[0].SlotID)
}

func TestPublishRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t, false)
	path := "/doctors/" + f.doctor.ID.String() + "/availability"

	tests := []struct {
		name string
		req  api.PublishSlotRequest
	}{
		{"bad date", api.PublishSlotRequest{Date: "03/03/2026", Start: "09:00", End: "09:30"}},
		{"bad clock", api.PublishSlotRequest{Date: tuesday, Start: "9am", End: "09:30"}},
		{"end before start", api.PublishSlotRequest{Date: tuesday, Start: "10:00", End: "09:30"}},
		{"in the past", api.PublishSlotRequest{Date: "2026-03-01", Start: "09:00", End: "09:30"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, path, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(http.MethodPost, "/doctors/not-a-uuid/availability", api.PublishSlotRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newAPIFixture(t, false)
	path := "/doctors/" + f.doctor.ID.String() + "/availability/generate"

	rec := f.do(http.MethodPost, path, api.GenerateRequest{From: tuesday, To: tuesday})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[appointment.GenerateResult](t, rec)
	assert.Equal(t, 14, first.Created)

	rec = f.do(http.MethodPost, path, api.GenerateRequest{From: tuesday, To: tuesday})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[appointment.GenerateResult](t, rec)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 14, second.Skipped)
}

func TestBookingLoserGetsActionableConflict(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("10:00", "10:30")

	rec := f.book(slot.ID, f.patient)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[api.AppointmentResponse](t, rec)
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), appt.StartsAt)

	rec = f.book(slot.ID, f.addPatient())
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[api.SlotUnavailableResponse](t, rec)
	assert.Equal(t, "slot_unavailable", body.Error)
	assert.Equal(t, "this slot was just taken; choose another", body.Message)
	assert.Nil(t, body.NextAvailable)

	later := f.publish("14:00", "14:30")
	f.publish("15:00", "15:30")
	rec = f.book(slot.ID, f.addPatient())
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decode[api.SlotUnavailableResponse](t, rec)
	require.NotNil(t, body.NextAvailable)
	assert.Equal(t, later.ID, body.NextAvailable.SlotID)
	assert.Equal(t, tuesday, body.NextAvailable.Date)
	assert.Equal(t, schedule.NewClock(14, 0), body.NextAvailable.Start)
	assert.Equal(t, schedule.NewClock(14, 30), body.NextAvailable.End)
}

func TestUpdateSlotEndpoint(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")
	f.publish("10:00", "10:30")
	path := "/availability/" + slot.ID.String()

	// Overlapping only itself is fine.
	rec := f.do(http.MethodPut, path, api.PublishSlotRequest{Date: tuesday, Start: "09:15", End: "09:45"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[api.SlotResponse](t, rec)
	assert.Equal(t, slot.ID, moved.ID)
	assert.Equal(t, schedule.NewClock(9, 15), moved.Start)
	assert.Equal(t, schedule.NewClock(9, 45), moved.End)

	rec = f.do(http.MethodPut, path, api.PublishSlotRequest{Date: tuesday, Start: "09:45", End: "10:15"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[api.ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPut, path, api.PublishSlotRequest{Date: tuesday, Start: "11:00", End: "10:30"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/availability/"+uuid.NewString(), api.PublishSlotRequest{Date: tuesday, Start: "11:00", End: "11:30"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusCreated, f.book(slot.ID, f.patient).Code)
	rec = f.do(http.MethodPut, path, api.PublishSlotRequest{Date: tuesday, Start: "11:00", End: "11:30"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "conflict", body.Error)
	assert.Contains(t, body.Message, "booked slot cannot be changed")
}

func TestBookingConcurrentRequestsOneWinner(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("11:00", "11:30")

	const n = 20
	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = f.addPatient()
	}

	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = f.book(slot.ID, patients[i]).Code
		}()
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		default:
			assert.Equal(t, http.StatusConflict, c)
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, f.repo.Appointments(), 1)
}

func TestBookingIdempotencyKeyReplays(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")

	first := f.book(slot.ID, f.patient, "Idempotency-Key", "abc-123")
	require.Equal(t, http.StatusCreated, first.Code)

	again := f.book(slot.ID, f.patient, "Idempotency-Key", "abc-123")
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.Equal(t,
		decode[api.AppointmentResponse](t, first).ID,
		decode[api.AppointmentResponse](t, again).ID)
}

func TestBookingIdempotencyKeyReusedForAnotherSlot(t *testing.T) {
	f := newAPIFixture(t, false)
	first := f.publish("09:00", "09:30")
	second := f.publish("10:00", "10:30")

	require.Equal(t, http.StatusCreated, f.book(first.ID, f.patient, "Idempotency-Key", "abc-123").Code)

	rec := f.book(second.ID, f.patient, "Idempotency-Key", "abc-123")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "conflict", body.Error)
	assert.Equal(t, "idempotency key was already used for a different booking", body.Message)

	slot, _ := f.repo.Slot(second.ID)
	assert.False(t, slot.IsBooked)
}

func TestPrepaymentFlowThroughWebhook(t *testing.T) {
	f := newAPIFixture(t, true)
	slot := f.publish("09:00", "09:30")
	appt := decode[api.AppointmentResponse](t, f.book(slot.ID, f.patient))
	statusPath := "/appointments/" + appt.ID.String() + "/status"

	rec := f.do(http.MethodPut, statusPath, api.UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "payment_required", decode[api.ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/payments/webhook", api.PaymentWebhookRequest{
		AppointmentID: appt.ID.String(),
		TransactionID: "tx-991",
		AmountCents:   4500,
		Status:        "completed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hook := decode[api.PaymentWebhookResponse](t, rec)
	require.NotNil(t, hook.Appointment)
	assert.Equal(t, "confirmed", hook.Appointment.Status)

	rec = f.do(http.MethodPut, statusPath, api.UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "transition_invalid", decode[api.ErrorResponse](t, rec).Error)
}

func TestStatusUpdateErrors(t *testing.T) {
	f := newAPIFixture(t, false)

	rec := f.do(http.MethodPut, "/appointments/"+uuid.NewString()+"/status", api.UpdateStatusRequest{Status: "cancelled"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPut, "/appointments/"+uuid.NewString()+"/status", api.UpdateStatusRequest{Status: "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	slot := f.publish("09:00", "09:30")
	appt := decode[api.AppointmentResponse](t, f.book(slot.ID, f.patient))
	rec = f.do(http.MethodPut, "/appointments/"+appt.ID.String()+"/status", api.UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPut, "/appointments/"+appt.ID.String()+"/status", api.UpdateStatusRequest{Status: "cancelled", Notes: "sick"})
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decode[api.AppointmentResponse](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "sick", cancelled.Notes)

	// The slot is bookable again.
	rec = f.book(slot.ID, f.addPatient())
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRescheduleEndpoint(t *testing.T) {
	f := newAPIFixture(t, false)
	oldSlot := f.publish("09:00", "09:30")
	newSlot := f.publish("15:00", "15:30")
	appt := decode[api.AppointmentResponse](t, f.book(oldSlot.ID, f.patient))

	rec := f.do(http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
		api.RescheduleRequest{NewSlotID: newSlot.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.RescheduleResponse](t, rec)
	assert.Equal(t, "cancelled", res.Cancelled.Status)
	assert.Equal(t, newSlot.ID, res.Booked.SlotID)
	require.NotNil(t, res.Booked.RescheduledFrom)
	assert.Equal(t, appt.ID, *res.Booked.RescheduledFrom)
}

func TestRevokeHeldSlot(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")
	appt := decode[api.AppointmentResponse](t, f.book(slot.ID, f.patient))

	rec := f.do(http.MethodDelete, "/availability/"+slot.ID.String(), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodDelete, "/availability/"+slot.ID.String()+"?force=true&reason=doctor+ill", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.RevokeResponse](t, rec)
	assert.False(t, res.Slot.IsActive)
	require.NotNil(t, res.CancelledAppointment)
	assert.Equal(t, appt.ID, res.CancelledAppointment.ID)
	assert.Equal(t, "doctor ill", res.CancelledAppointment.Notes)
}

func TestSessionKeysOnlyForOpenAppointments(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")
	appt := decode[api.AppointmentResponse](t, f.book(slot.ID, f.patient))
	path := "/appointments/" + appt.ID.String() + "/session"

	rec := f.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	keys := decode[session.Keys](t, rec)
	assert.Equal(t, "chat:"+appt.ID.String(), keys.ChatChannel)
	assert.True(t, f.redis.Exists(session.Key(appt.ID)))

	rec = f.do(http.MethodPut, "/appointments/"+appt.ID.String()+"/status", api.UpdateStatusRequest{Status: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.redis.Exists(session.Key(appt.ID)))

	rec = f.do(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestForceRevokeDropsSessionKeys(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")
	appt := decode[api.AppointmentResponse](t, f.book(slot.ID, f.patient))

	rec := f.do(http.MethodGet, "/appointments/"+appt.ID.String()+"/session", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, f.redis.Exists(session.Key(appt.ID)))

	rec = f.do(http.MethodDelete, "/availability/"+slot.ID.String()+"?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.redis.Exists(session.Key(appt.ID)))
}

func TestPersistenceFailureIsRetryable(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")
	f.repo.FailClaim = func(uuid.UUID) error {
		return appointment.NewError(appointment.ErrPersistence, "connection refused")
	}

	rec := f.book(slot.ID, f.patient)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "persistence_failure", body.Error)
	assert.NotContains(t, body.Message, "connection refused")
}

func TestListAppointmentsNeedsFilter(t *testing.T) {
	f := newAPIFixture(t, false)
	slot := f.publish("09:00", "09:30")
	require.Equal(t, http.StatusCreated, f.book(slot.ID, f.patient).Code)

	rec := f.do(http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/appointments?patient_id="+f.patient.String()+"&status=scheduled&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.AppointmentResponse](t, rec), 1)

	rec = f.do(http.MethodGet, "/appointments?patient_id="+f.patient.String()+"&limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t, false)

	rec := f.do(http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[api.ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)

	f.redis.Close()
	rec = f.do(http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[api.ReadinessResponse](t, rec).Status)

	slot := f.publish("09:00", "09:30")
	f.book(slot.ID, f.patient)
	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_booking_attempts_total")
}

func TestReadinessFailsWithoutPostgres(t *testing.T) {
	h := api.NewHealthHandler(stubPinger{err: errors.New("refused")}, nil, "test", "v0")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ready := decode[api.ReadinessResponse](t, rec)
	assert.Equal(t, "down", ready.Dependencies["postgres"])
	assert.Equal(t, "disabled", ready.Dependencies["redis"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newAPIFixture(t, false)
	rec := f.do(http.MethodGet, "/health/live", nil, "X-Request-ID", "req-7")
	assert.Equal(t, "req-7", rec.Header().Get("X-Request-ID"))
}
