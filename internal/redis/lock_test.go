package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestWithSlotLockRunsAndReleases(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 5*time.Second)
	slotID := uuid.New()

	ran := false
	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		ran = true
		require.True(t, mr.Exists(SlotLockKey(slotID)))
		return nil
	})

	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists(SlotLockKey(slotID)))
}

func TestWithSlotLockHeldElsewhere(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 5*time.Second)
	slotID := uuid.New()

	require.NoError(t, mr.Set(SlotLockKey(slotID), "someone-else"))

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrLockNotAcquired)

	// The other holder's key survives.
	got, err := mr.Get(SlotLockKey(slotID))
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestWithSlotLockPropagatesError(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 5*time.Second)
	slotID := uuid.New()
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(SlotLockKey(slotID)))
}

func TestWithSlotLockBackendDown(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 5*time.Second)
	mr.Close()

	err := locker.WithSlotLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrLockBackend)
	require.NotErrorIs(t, err, ErrLockNotAcquired)
}

func TestNewRedisClientPing(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	rdb, err := NewRedisClient(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), Options{Addr: addr})
	require.Error(t, err)
}
