package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, time.Minute), mr
}

func TestLockerMutualExclusion(t *testing.T) {
	locker, _ := newTestLocker(t)
	key := PeriodLockKey(1, 10)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), key)
	require.ErrorIs(t, err, ErrLockHeld)

	release()
	release2, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	release2()
}

func TestLockerExpiry(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := YearLockKey(1, 3)

	_, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	release()
}

func TestLockerReleaseOnlyDeletesOwnToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := PeriodLockKey(2, 5)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	// Simulate another holder taking the key after this one expired.
	mr.FastForward(2 * time.Minute)
	_, err = locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	// Releasing the stale handle must not free the new holder's lock.
	release()
	_, err = locker.Acquire(context.Background(), key)
	require.ErrorIs(t, err, ErrLockHeld)
}

func TestLockKeysAreTenantScoped(t *testing.T) {
	require.NotEqual(t, PeriodLockKey(1, 10), PeriodLockKey(2, 10))
	require.NotEqual(t, YearLockKey(1, 10), PeriodLockKey(1, 10))
}

func TestNilLockerIsNoop(t *testing.T) {
	var l *Locker
	release, err := l.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	release()
}
