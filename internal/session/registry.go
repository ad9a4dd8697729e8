// Package session hands out the chat channel and video room names the
// external chat and video services key on. One pair exists per
// appointment and lives in Redis until the appointment ends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const minTTL = time.Minute

type Keys struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	ChatChannel   string    `json:"chat_channel"`
	VideoRoom     string    `json:"video_room"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type Registry struct {
	client *redis.Client
	now    func() time.Time
}

func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client, now: time.Now}
}

func Key(appointmentID uuid.UUID) string {
	return fmt.Sprintf("session:appointment:%s", appointmentID.String())
}

// Ensure returns the appointment's session keys, creating them on first
// use. Concurrent callers all get the pair that won the SetNX.
func (r *Registry) Ensure(ctx context.Context, appointmentID uuid.UUID, expiresAt time.Time) (*Keys, error) {
	key := Key(appointmentID)

	ttl := expiresAt.Sub(r.now())
	if ttl < minTTL {
		ttl = minTTL
	}

	fresh := Keys{
		AppointmentID: appointmentID,
		ChatChannel:   "chat:" + appointmentID.String(),
		VideoRoom:     "room-" + uuid.NewString(),
		ExpiresAt:     expiresAt.UTC(),
	}
	raw, err := json.Marshal(fresh)
	if err != nil {
		return nil, err
	}

	created, err := r.client.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("store session keys: %w", err)
	}
	if created {
		return &fresh, nil
	}

	existing, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SetNX and Get.
		return r.Ensure(ctx, appointmentID, expiresAt)
	}
	if err != nil {
		return nil, fmt.Errorf("load session keys: %w", err)
	}

	var keys Keys
	if err := json.Unmarshal(existing, &keys); err != nil {
		return nil, fmt.Errorf("decode session keys: %w", err)
	}
	return &keys, nil
}

func (r *Registry) Revoke(ctx context.Context, appointmentID uuid.UUID) error {
	return r.client.Del(ctx, Key(appointmentID)).Err()
}

// Revoker drops an appointment's keys as soon as it reaches a terminal
// status, whichever path got it there.
func (r *Registry) Revoker(logger zerolog.Logger) appointment.Emitter {
	return appointment.EmitterFunc(func(ctx context.Context, ev appointment.Event) {
		if !ev.NewStatus.Terminal() {
			return
		}
		if err := r.Revoke(ctx, ev.AppointmentID); err != nil {
			logger.Warn().Err(err).
				Str("appointment_id", ev.AppointmentID.String()).
				Str("status", string(ev.NewStatus)).
				Msg("session revoke failed")
		}
	})
}
