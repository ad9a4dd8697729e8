// Package app assembles the scheduling core from configuration. The API
// server, the worker and schedctl share it.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-scheduling/internal/payment"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/session"
)

const connectTimeout = 10 * time.Second

// Runtime holds the shared infrastructure. Redis, PaymentCache and
// Sessions are nil when Redis is not configured or unreachable.
type Runtime struct {
	Config       config.Config
	Logger       zerolog.Logger
	Postgres     *pgxpool.Pool
	Redis        *redis.Client
	Registry     *prometheus.Registry
	Repository   *appointment.PgRepository
	Payments     *payment.PgStore
	PaymentCache *payment.CachedGate
	Sessions     *session.Registry
	Outbox       *notify.OutboxStore
	Service      *appointment.Service
}

// Build connects Postgres (required) and Redis (optional) and wires the
// booking service. extra emitters receive every lifecycle event after the
// outbox and the session revoker.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, extra ...appointment.Emitter) (*Runtime, error) {
	pgCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:    cfg.DBMaxConns,
		LockTimeout: cfg.DBLockTimeout,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("app: postgres: %w", err)
	}
	logger.Info().Int32("max_conns", cfg.DBMaxConns).Msg("connected to postgres")

	rt := &Runtime{
		Config:     cfg,
		Logger:     logger,
		Postgres:   pool,
		Registry:   prometheus.NewRegistry(),
		Repository: appointment.NewPgRepository(pool),
		Payments:   payment.NewPgStore(pool),
		Outbox:     notify.NewOutboxStore(pool),
	}
	rt.Redis = connectRedis(ctx, cfg, logger)

	var (
		locker redisclient.Locker
		gate   appointment.PaymentGate = rt.Payments
	)
	if rt.Redis != nil {
		locker = redisclient.NewRedisSlotLocker(rt.Redis, cfg.LockTTL)
		rt.PaymentCache = payment.NewCachedGate(rt.Payments, rt.Redis, cfg.PaymentCacheTTL, logger)
		gate = rt.PaymentCache
		rt.Sessions = session.NewRegistry(rt.Redis)
	}

	emitters := notify.Fanout{notify.NewOutboxEmitter(rt.Outbox, logger)}
	if rt.Sessions != nil {
		emitters = append(emitters, rt.Sessions.Revoker(logger))
	}
	emitters = append(emitters, extra...)

	rt.Service = appointment.NewService(rt.Repository, locker, cfg,
		appointment.WithPaymentGate(gate),
		appointment.WithEmitter(emitters),
		appointment.WithMetrics(metrics.NewBookingMetrics(rt.Registry)),
		appointment.WithLogger(logger),
	)
	return rt, nil
}

func connectRedis(ctx context.Context, cfg config.Config, logger zerolog.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		logger.Warn().Msg("REDIS_ADDR not set; slot locks, payment cache and sessions disabled")
		return nil
	}
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; continuing with database-only booking")
		return nil
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	return rdb
}

// Close releases connections in reverse order of Build.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn().Err(err).Msg("error closing redis")
		}
	}
	rt.Postgres.Close()
}
