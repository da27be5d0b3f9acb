package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/pkg/redis"
)

const (
	defaultLockTTL = 10 * time.Minute
	lockScope      = "cron"
	releaseTimeout = 5 * time.Second
)

// ErrLockHeld means another worker owns the cycle right now.
var ErrLockHeld = errors.New("cron lock held by another worker")

// Lock hands out at most one live lease across every worker sharing it.
type Lock interface {
	Acquire(ctx context.Context) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

// RedisLock is a cycle-wide lock on the shared Redis locker. Each Acquire
// uses a fresh owner token, so a lease whose TTL lapsed cannot free a lock
// someone else has since taken.
type RedisLock struct {
	locker redis.Locker
	key    string
	ttl    time.Duration
}

// NewRedisLock builds the lock called name. ttl has to outlast a full cycle.
func NewRedisLock(locker redis.Locker, name string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case locker == nil:
		return nil, errors.New("redis locker required for cron lock")
	case name == "":
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{locker: locker, key: locker.LockKey(lockScope, name), ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (Lease, error) {
	owner := uuid.NewString()
	ok, err := l.locker.TryLock(ctx, l.key, owner, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire cron lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLease{locker: l.locker, key: l.key, owner: owner}, nil
}

type redisLease struct {
	locker redis.Locker
	key    string
	owner  string
}

// Release still runs when ctx is already cancelled, which is the usual case
// on shutdown.
func (l *redisLease) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := l.locker.Unlock(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release cron lock: %w", err)
	}
	l.owner = ""
	return nil
}
