package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLocker struct {
	mu     sync.Mutex
	owners map[string]string
	ttls   map[string]time.Duration
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{owners: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLocker) LockKey(scope, id string) string { return "tb:lock:" + scope + ":" + id }

func (m *memoryLocker) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.owners[key]; taken {
		return false, nil
	}
	m.owners[key] = owner
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLocker) Unlock(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[key] == owner {
		delete(m.owners, key)
	}
	return nil
}

// expire simulates the TTL lapsing and another worker taking over.
func (m *memoryLocker) expire(key, newOwner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[key] = newOwner
}

func TestRedisLockSingleLease(t *testing.T) {
	locker := newMemoryLocker()
	lock, err := NewRedisLock(locker, "cycle-test", 0)
	require.NoError(t, err)

	lease, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, locker.ttls["tb:lock:cron:cycle-test"])

	_, err = lock.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, lease.Release(context.Background()))

	again, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Release(context.Background()))
}

func TestRedisLeaseDoesNotFreeSuccessorLock(t *testing.T) {
	locker := newMemoryLocker()
	lock, err := NewRedisLock(locker, "cycle-test", time.Minute)
	require.NoError(t, err)

	lease, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	locker.expire("tb:lock:cron:cycle-test", "other-worker")

	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, "other-worker", locker.owners["tb:lock:cron:cycle-test"])
}

func TestRedisLeaseReleasesAfterCancel(t *testing.T) {
	locker := newMemoryLocker()
	lock, err := NewRedisLock(locker, "cycle-test", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	lease, err := lock.Acquire(ctx)
	require.NoError(t, err)
	cancel()

	require.NoError(t, lease.Release(ctx))
	assert.Empty(t, locker.owners)
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "cycle", time.Minute)
	assert.Error(t, err)
	_, err = NewRedisLock(newMemoryLocker(), "", time.Minute)
	assert.Error(t, err)
}
