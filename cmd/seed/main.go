package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// shift is a clinic day template; the break sits mid-shift.
type shift struct {
	open, close, breakStart, breakEnd schedule.Clock
	slotMinutes                       int
}

var shifts = []shift{
	{schedule.NewClock(8, 0), schedule.NewClock(16, 0), schedule.NewClock(12, 0), schedule.NewClock(12, 30), 30},
	{schedule.NewClock(9, 0), schedule.NewClock(17, 0), schedule.NewClock(12, 30), schedule.NewClock(13, 30), 30},
	{schedule.NewClock(10, 0), schedule.NewClock(18, 0), schedule.NewClock(14, 0), schedule.NewClock(14, 20), 20},
	{schedule.NewClock(7, 30), schedule.NewClock(13, 30), schedule.NewClock(10, 0), schedule.NewClock(10, 15), 15},
}

func pgTime(c schedule.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: c.Microseconds(), Valid: true}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("dev", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	doctors := envInt("SEED_DOCTORS", 20)
	patients := envInt("SEED_PATIENTS", 2000)
	days := envInt("SEED_DAYS", 14)

	ctx := context.Background()
	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	gofakeit.Seed(time.Now().UnixNano())

	ids, err := seedDoctors(ctx, rt.Postgres, doctors, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, rt.Postgres, patients, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	from := rt.Service.Today()
	rng, err := schedule.NewDateRange(from, from.AddDate(0, 0, days-1))
	if err != nil {
		logger.Fatal().Err(err).Msg("slot range")
	}
	total := 0
	for _, id := range ids {
		res, err := rt.Service.GenerateAvailability(ctx, id, rng)
		if err != nil {
			logger.Fatal().Err(err).Str("doctor_id", id.String()).Msg("generate slots")
		}
		total += res.Created
	}
	logger.Info().Int("doctors", len(ids)).Int("patients", patients).Int("slots", total).Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, 0, count)
	for range count {
		id := uuid.New()
		sh := shifts[gofakeit.Number(0, len(shifts)-1)]
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		prepay := gofakeit.Number(1, 5) == 1

		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, clinic_open, clinic_close, slot_minutes, requires_prepayment)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, "Dr. "+gofakeit.Name(), spec, pgTime(sh.open), pgTime(sh.close), sh.slotMinutes, prepay); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_breaks (doctor_id, start_time, end_time)
			VALUES ($1, $2, $3)
		`, id, pgTime(sh.breakStart), pgTime(sh.breakEnd)); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	rows := make([][]any, 0, count)
	for range count {
		rows = append(rows, []any{uuid.New(), gofakeit.Name(), gofakeit.Email()})
	}
	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "name", "email"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}
	logger.Info().Int64("rows", n).Msg("patients seeded")
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
