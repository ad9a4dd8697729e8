package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func newRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRegistry(client), mr
}

func TestEnsureIsStablePerAppointment(t *testing.T) {
	reg, mr := newRegistry(t)
	id := uuid.New()
	ends := time.Now().Add(2 * time.Hour)

	first, err := reg.Ensure(context.Background(), id, ends)
	require.NoError(t, err)
	assert.Equal(t, "chat:"+id.String(), first.ChatChannel)
	assert.NotEmpty(t, first.VideoRoom)

	second, err := reg.Ensure(context.Background(), id, ends)
	require.NoError(t, err)
	assert.Equal(t, first.VideoRoom, second.VideoRoom)

	ttl := mr.TTL(Key(id))
	assert.Greater(t, ttl, time.Hour)
	assert.LessOrEqual(t, ttl, 2*time.Hour)
}

func TestEnsureConcurrentCallersAgree(t *testing.T) {
	reg, _ := newRegistry(t)
	id := uuid.New()
	ends := time.Now().Add(time.Hour)

	const n = 20
	rooms := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := reg.Ensure(context.Background(), id, ends)
			if err == nil {
				rooms[i] = k.VideoRoom
			}
		}()
	}
	wg.Wait()

	for _, r := range rooms {
		assert.Equal(t, rooms[0], r)
	}
	assert.NotEmpty(t, rooms[0])
}

func TestEnsureUsesMinimumTTLForPastEnd(t *testing.T) {
	reg, mr := newRegistry(t)
	id := uuid.New()

	_, err := reg.Ensure(context.Background(), id, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, minTTL, mr.TTL(Key(id)))
}

func TestRevoke(t *testing.T) {
	reg, mr := newRegistry(t)
	id := uuid.New()

	first, err := reg.Ensure(context.Background(), id, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, reg.Revoke(context.Background(), id))
	assert.False(t, mr.Exists(Key(id)))

	next, err := reg.Ensure(context.Background(), id, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first.VideoRoom, next.VideoRoom)
}

func TestRevokerDropsKeysOnTerminalEvents(t *testing.T) {
	reg, mr := newRegistry(t)
	emitter := reg.Revoker(zerolog.Nop())
	ctx := context.Background()
	ends := time.Now().Add(time.Hour)

	tests := []struct {
		status appointment.Status
		kept   bool
	}{
		{appointment.StatusScheduled, true},
		{appointment.StatusConfirmed, true},
		{appointment.StatusCancelled, false},
		{appointment.StatusCompleted, false},
		{appointment.StatusNoShow, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			id := uuid.New()
			_, err := reg.Ensure(ctx, id, ends)
			require.NoError(t, err)

			emitter.Emit(ctx, appointment.Event{
				Type:          appointment.EventAppointmentTransition,
				AppointmentID: id,
				NewStatus:     tt.status,
			})
			assert.Equal(t, tt.kept, mr.Exists(Key(id)))
		})
	}
}

func TestRevokerSurvivesRedisOutage(t *testing.T) {
	reg, mr := newRegistry(t)
	mr.Close()

	assert.NotPanics(t, func() {
		reg.Revoker(zerolog.Nop()).Emit(context.Background(), appointment.Event{
			AppointmentID: uuid.New(),
			NewStatus:     appointment.StatusNoShow,
		})
	})
}
