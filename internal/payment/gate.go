package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func PaidKey(appointmentID uuid.UUID) string {
	return fmt.Sprintf("payment:paid:%s", appointmentID.String())
}

// CachedGate answers IsPaid from Redis when it can. Only positive answers
// are cached; a miss or a Redis failure asks the wrapped gate.
type CachedGate struct {
	next   appointment.PaymentGate
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedGate(next appointment.PaymentGate, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedGate {
	return &CachedGate{next: next, client: client, ttl: ttl, logger: logger}
}

func (g *CachedGate) IsPaid(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	key := PaidKey(appointmentID)

	if g.client != nil {
		v, err := g.client.Get(ctx, key).Result()
		switch {
		case err == nil && v == "1":
			return true, nil
		case err != nil && err != redis.Nil:
			g.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("payment cache read failed")
		}
	}

	paid, err := g.next.IsPaid(ctx, appointmentID)
	if err != nil || !paid || g.client == nil {
		return paid, err
	}

	if err := g.client.Set(ctx, key, "1", g.ttl).Err(); err != nil {
		g.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("payment cache write failed")
	}
	return true, nil
}

// Invalidate drops the cached answer, e.g. after a refund.
func (g *CachedGate) Invalidate(ctx context.Context, appointmentID uuid.UUID) error {
	if g.client == nil {
		return nil
	}
	return g.client.Del(ctx, PaidKey(appointmentID)).Err()
}
