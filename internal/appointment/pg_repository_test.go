package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

var appointmentCols = []string{
	"id", "doctor_id", "patient_id", "slot_id", "status", "reason", "notes",
	"rescheduled_from", "idempotency_key", "reminded_at", "created_at", "updated_at",
	"date", "start_time", "end_time",
}

var slotCols = []string{
	"id", "doctor_id", "date", "start_time", "end_time", "is_active", "is_booked", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := newPgRepositoryWithPool(mock)
	repo.backoff = time.Millisecond
	return repo, mock
}

func sampleAppointment(status Status) Appointment {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return Appointment{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		PatientID: uuid.New(),
		SlotID:    uuid.New(),
		Status:    status,
		Reason:    "checkup",
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.NewClock(9, 0),
		EndTime:   schedule.NewClock(9, 30),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func appointmentRows(list ...Appointment) *pgxmock.Rows {
	rows := pgxmock.NewRows(appointmentCols)
	for _, a := range list {
		rows.AddRow(
			a.ID, a.DoctorID, a.PatientID, a.SlotID, string(a.Status), a.Reason, a.Notes,
			a.RescheduledFrom, a.IdempotencyKey, a.RemindedAt, a.CreatedAt, a.UpdatedAt,
			a.Date, pgClock(a.StartTime), pgClock(a.EndTime),
		)
	}
	return rows
}

func slotRow(s AvailabilitySlot) *pgxmock.Rows {
	return pgxmock.NewRows(slotCols).AddRow(
		s.ID, s.DoctorID, s.Date, pgClock(s.StartTime), pgClock(s.EndTime),
		s.IsActive, s.IsBooked, s.CreatedAt, s.UpdatedAt,
	)
}

func claimFor(a Appointment) Claim {
	return Claim{
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		SlotID:        a.SlotID,
		PatientID:     a.PatientID,
		Reason:        a.Reason,
	}
}

func TestPgClaimSlotBooksWhenCASWins(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusScheduled)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WithArgs(a.SlotID, a.DoctorID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(a.SlotID))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WithArgs(a.ID, a.DoctorID, a.PatientID, a.SlotID, a.Reason, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(appointmentRows(a))
	mock.ExpectCommit()

	res, err := repo.ClaimSlot(context.Background(), claimFor(a))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, a.ID, res.Appointment.ID)
	assert.Equal(t, StatusScheduled, res.Appointment.Status)
	assert.Equal(t, schedule.NewClock(9, 0), res.Appointment.StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotReportsTakenOnCASMiss(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusScheduled)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WithArgs(a.SlotID, a.DoctorID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT is_active FROM availability_slots`).
		WithArgs(a.SlotID, a.DoctorID).
		WillReturnRows(pgxmock.NewRows([]string{"is_active"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.ClaimSlot(context.Background(), claimFor(a))
	require.ErrorIs(t, err, ErrSlotTaken)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotReportsMissingSlot(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusScheduled)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT is_active FROM availability_slots`).
		WillReturnRows(pgxmock.NewRows([]string{"is_active"}))
	mock.ExpectRollback()

	_, err := repo.ClaimSlot(context.Background(), claimFor(a))
	require.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotReplaysIdempotencyKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	key := "req-42"
	prior := sampleAppointment(StatusScheduled)
	prior.IdempotencyKey = &key

	c := claimFor(prior)
	c.AppointmentID = uuid.New()
	c.IdempotencyKey = &key

	mock.ExpectBegin()
	mock.ExpectQuery(`a.idempotency_key = \$2`).
		WithArgs(prior.PatientID, key).
		WillReturnRows(appointmentRows(prior))
	mock.ExpectCommit()

	res, err := repo.ClaimSlot(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, prior.ID, res.Appointment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotRejectsKeyReusedForAnotherSlot(t *testing.T) {
	repo, mock := newMockRepo(t)
	key := "req-42"
	prior := sampleAppointment(StatusScheduled)
	prior.IdempotencyKey = &key

	c := claimFor(prior)
	c.SlotID = uuid.New()
	c.IdempotencyKey = &key

	mock.ExpectBegin()
	mock.ExpectQuery(`a.idempotency_key = \$2`).
		WillReturnRows(appointmentRows(prior))
	mock.ExpectRollback()

	_, err := repo.ClaimSlot(context.Background(), c)
	require.ErrorIs(t, err, ErrIdempotencyMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotRetriesTransientFailureOnce(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusScheduled)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(a.SlotID))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WillReturnRows(appointmentRows(a))
	mock.ExpectCommit()

	res, err := repo.ClaimSlot(context.Background(), claimFor(a))
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.Appointment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotGivesUpAfterSecondTransientFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusScheduled)

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
			WillReturnError(&pgconn.PgError{Code: "40P01"})
		mock.ExpectRollback()
	}

	_, err := repo.ClaimSlot(context.Background(), claimFor(a))
	require.ErrorIs(t, err, ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotMapsLiveSlotConstraint(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusScheduled)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(a.SlotID))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintLiveSlot})
	mock.ExpectRollback()

	_, err := repo.ClaimSlot(context.Background(), claimFor(a))
	require.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleLeavesEverythingOnCASMiss(t *testing.T) {
	repo, mock := newMockRepo(t)
	old := sampleAppointment(StatusConfirmed)
	newSlot := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF a`).
		WithArgs(old.ID).
		WillReturnRows(appointmentRows(old))
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WithArgs(newSlot, old.DoctorID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT doctor_id FROM availability_slots`).
		WithArgs(newSlot).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id"}).AddRow(old.DoctorID))
	mock.ExpectRollback()

	_, err := repo.Reschedule(context.Background(), RescheduleClaim{
		AppointmentID:    old.ID,
		NewSlotID:        newSlot,
		NewAppointmentID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleSwapsSlotsInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	old := sampleAppointment(StatusScheduled)
	newSlot := uuid.New()
	newID := uuid.New()

	cancelled := old
	cancelled.Status = StatusCancelled
	booked := old
	booked.ID = newID
	booked.SlotID = newSlot
	booked.RescheduledFrom = &old.ID
	booked.StartTime = schedule.NewClock(10, 0)
	booked.EndTime = schedule.NewClock(10, 30)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF a`).WillReturnRows(appointmentRows(old))
	mock.ExpectQuery(`UPDATE availability_slots\s+SET is_booked = true`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(newSlot))
	mock.ExpectQuery(`UPDATE appointments\s+SET status = \$3`).
		WithArgs(old.ID, "scheduled", "cancelled", "").
		WillReturnRows(appointmentRows(cancelled))
	mock.ExpectExec(`UPDATE availability_slots\s+SET is_booked = false`).
		WithArgs(old.SlotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO appointments`).
		WillReturnRows(appointmentRows(booked))
	mock.ExpectCommit()

	res, err := repo.Reschedule(context.Background(), RescheduleClaim{
		AppointmentID:    old.ID,
		NewSlotID:        newSlot,
		NewAppointmentID: newID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Cancelled.Status)
	assert.Equal(t, newID, res.Booked.ID)
	require.NotNil(t, res.Booked.RescheduledFrom)
	assert.Equal(t, old.ID, *res.Booked.RescheduledFrom)
	assert.Equal(t, StatusScheduled, res.PreviousStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleRefusesTerminalAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	old := sampleAppointment(StatusCompleted)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF a`).WillReturnRows(appointmentRows(old))
	mock.ExpectRollback()

	_, err := repo.Reschedule(context.Background(), RescheduleClaim{
		AppointmentID:    old.ID,
		NewSlotID:        uuid.New(),
		NewAppointmentID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrTransitionInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTransitionStatusReopensSlot(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusCancelled)
	a.Notes = "patient called"

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE appointments\s+SET status = \$3`).
		WithArgs(a.ID, "confirmed", "cancelled", "patient called").
		WillReturnRows(appointmentRows(a))
	mock.ExpectExec(`UPDATE availability_slots\s+SET is_booked = false`).
		WithArgs(a.SlotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	updated, err := repo.TransitionStatus(context.Background(), StatusChange{
		AppointmentID: a.ID,
		From:          StatusConfirmed,
		To:            StatusCancelled,
		ReopenSlot:    true,
		Notes:         "patient called",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Equal(t, "patient called", updated.Notes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTransitionStatusLosesRace(t *testing.T) {
	repo, mock := newMockRepo(t)
	current := sampleAppointment(StatusCancelled)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE appointments\s+SET status = \$3`).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery(`WHERE a.id = \$1`).
		WithArgs(current.ID).
		WillReturnRows(appointmentRows(current))
	mock.ExpectRollback()

	_, err := repo.TransitionStatus(context.Background(), StatusChange{
		AppointmentID: current.ID,
		From:          StatusScheduled,
		To:            StatusConfirmed,
	})
	require.ErrorIs(t, err, ErrTransitionInvalid)
	assert.Contains(t, err.Error(), "cancelled")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertSlotRejectsOverlap(t *testing.T) {
	repo, mock := newMockRepo(t)
	doctorID := uuid.New()
	ns := NewSlot{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.NewClock(9, 15),
		EndTime:   schedule.NewClock(9, 45),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR NO KEY UPDATE`).
		WithArgs(doctorID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(doctorID))
	mock.ExpectQuery(`start_time < \$4`).
		WithArgs(doctorID, ns.Date, pgClock(ns.StartTime), pgClock(ns.EndTime)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectRollback()

	_, err := repo.InsertSlot(context.Background(), ns)
	require.ErrorIs(t, err, ErrSlotOverlap)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertSlotUnknownDoctor(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR NO KEY UPDATE`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.InsertSlot(context.Background(), NewSlot{ID: uuid.New(), DoctorID: uuid.New()})
	require.ErrorIs(t, err, ErrDoctorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeactivateSlotRefusesHeldSlot(t *testing.T) {
	repo, mock := newMockRepo(t)
	holder := sampleAppointment(StatusConfirmed)
	slot := AvailabilitySlot{
		ID:        holder.SlotID,
		DoctorID:  holder.DoctorID,
		Date:      holder.Date,
		StartTime: holder.StartTime,
		EndTime:   holder.EndTime,
		IsActive:  true,
		IsBooked:  true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectQuery(`status <> 'cancelled'`).
		WithArgs(slot.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(holder.ID))
	mock.ExpectRollback()

	_, err := repo.DeactivateSlot(context.Background(), slot.ID)
	require.ErrorIs(t, err, ErrSlotHasAppointment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeactivateSlotAfterHolderCancelled(t *testing.T) {
	repo, mock := newMockRepo(t)
	slot := AvailabilitySlot{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.NewClock(9, 0),
		EndTime:   schedule.NewClock(9, 30),
		IsActive:  true,
		IsBooked:  true,
	}
	revoked := slot
	revoked.IsActive = false

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectQuery(`status <> 'cancelled'`).
		WithArgs(slot.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SET is_active = false`).
		WithArgs(slot.ID).
		WillReturnRows(slotRow(revoked))
	mock.ExpectCommit()

	got, err := repo.DeactivateSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeactivateSlotIsIdempotent(t *testing.T) {
	repo, mock := newMockRepo(t)
	slot := AvailabilitySlot{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.NewClock(9, 0),
		EndTime:   schedule.NewClock(9, 30),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(slotRow(slot))
	mock.ExpectCommit()

	got, err := repo.DeactivateSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateSlotExcludesItselfFromOverlap(t *testing.T) {
	repo, mock := newMockRepo(t)
	slot := AvailabilitySlot{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.NewClock(9, 0),
		EndTime:   schedule.NewClock(9, 30),
		IsActive:  true,
	}
	moved := slot
	moved.StartTime = schedule.NewClock(9, 15)
	moved.EndTime = schedule.NewClock(9, 45)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectExec(`FOR NO KEY UPDATE`).
		WithArgs(slot.DoctorID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`id <> \$2`).
		WithArgs(slot.DoctorID, slot.ID, slot.Date, pgClock(moved.StartTime), pgClock(moved.EndTime)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SET date = \$2`).
		WithArgs(slot.ID, slot.Date, pgClock(moved.StartTime), pgClock(moved.EndTime)).
		WillReturnRows(slotRow(moved))
	mock.ExpectCommit()

	got, err := repo.UpdateSlot(context.Background(), SlotUpdate{
		ID:        slot.ID,
		Date:      slot.Date,
		StartTime: moved.StartTime,
		EndTime:   moved.EndTime,
	})
	require.NoError(t, err)
	assert.Equal(t, moved.StartTime, got.StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateSlotRefusesBookedSlot(t *testing.T) {
	repo, mock := newMockRepo(t)
	slot := AvailabilitySlot{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.NewClock(9, 0),
		EndTime:   schedule.NewClock(9, 30),
		IsActive:  true,
		IsBooked:  true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(slot.ID).
		WillReturnRows(slotRow(slot))
	mock.ExpectRollback()

	_, err := repo.UpdateSlot(context.Background(), SlotUpdate{
		ID:        slot.ID,
		Date:      slot.Date,
		StartTime: schedule.NewClock(10, 0),
		EndTime:   schedule.NewClock(10, 30),
	})
	require.ErrorIs(t, err, ErrSlotBooked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateSlotMapsExclusionViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	slot := AvailabilitySlot{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.NewClock(9, 0),
		EndTime:   schedule.NewClock(9, 30),
		IsActive:  true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(slotRow(slot))
	mock.ExpectExec(`FOR NO KEY UPDATE`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`id <> \$2`).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SET date = \$2`).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: constraintSlotOverlap})
	mock.ExpectRollback()

	_, err := repo.UpdateSlot(context.Background(), SlotUpdate{
		ID:        slot.ID,
		Date:      slot.Date,
		StartTime: schedule.NewClock(9, 0),
		EndTime:   schedule.NewClock(10, 0),
	})
	require.ErrorIs(t, err, ErrSlotOverlap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkReminded(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`SET reminded_at = \$2`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET reminded_at = \$2`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	marked, err := repo.MarkReminded(context.Background(), id, at)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = repo.MarkReminded(context.Background(), id, at)
	require.NoError(t, err)
	assert.False(t, marked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindEndedBefore(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment(StatusConfirmed)
	b := sampleAppointment(StatusConfirmed)
	wall := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`\(s.date \+ s.end_time\) < \$2`).
		WithArgs("confirmed", wall, 50).
		WillReturnRows(appointmentRows(a, b))

	got, err := repo.FindEndedBefore(context.Background(), StatusConfirmed, wall, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"live slot", &pgconn.PgError{Code: "23505", ConstraintName: constraintLiveSlot}, ErrSlotTaken},
		{"active slot", &pgconn.PgError{Code: "23505", ConstraintName: constraintActiveSlot}, ErrSlotOverlap},
		{"idempotency", &pgconn.PgError{Code: "23505", ConstraintName: constraintIdempotencyKey}, ErrIdempotencyMismatch},
		{"other unique", &pgconn.PgError{Code: "23505", ConstraintName: "uq_other"}, ErrConflict},
		{"exclusion", &pgconn.PgError{Code: "23P01", ConstraintName: constraintSlotOverlap}, ErrSlotOverlap},
		{"patient fk", &pgconn.PgError{Code: "23503", ConstraintName: "appointments_patient_id_fkey"}, ErrPatientNotFound},
		{"doctor fk", &pgconn.PgError{Code: "23503", ConstraintName: "availability_slots_doctor_id_fkey"}, ErrDoctorNotFound},
		{"check", &pgconn.PgError{Code: "23514"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPgError(tt.err)
			require.Error(t, got)
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.Nil(t, mapPgError(errors.New("plain")))
	assert.Nil(t, mapPgError(&pgconn.PgError{Code: "40001"}))
}

func TestClassifyWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("conn closed")
	err := classify("get slot", cause)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)

	assert.Same(t, ErrSlotTaken, classify("x", ErrSlotTaken))
	assert.NoError(t, classify("x", nil))
}
