package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PeriodLockKey builds redis keys for the period close critical section.
func PeriodLockKey(tenantID, periodID int64) string {
	return fmt.Sprintf("ledger:%d:period:%d:close", tenantID, periodID)
}

// YearLockKey builds redis keys for the year close critical section.
func YearLockKey(tenantID, yearID int64) string {
	return fmt.Sprintf("ledger:%d:year:%d:close", tenantID, yearID)
}

// ErrLockHeld indicates another process holds the lock.
var ErrLockHeld = fmt.Errorf("shared: lock already held")

// Locker provides best-effort cross-instance mutual exclusion on top of
// redis SET NX. The database row lock remains the source of truth; this only
// keeps concurrent close requests from queueing on the row.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker returns a Locker with the supplied TTL.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes the named lock, returning a release func. ErrLockHeld is
// returned when the lock is already taken.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func() {
		// Only delete the key if we still own it.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		_ = l.client.Eval(context.Background(), script, []string{key}, token).Err()
	}
	return release, nil
}
