package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	"github.com/angelmondragon/tutorbill-backend/pkg/redis"
)

// Guard keeps concurrent deliveries of an already recorded event from applying side
// by side. Durability is decided by the unique gateway event id, never by the guard.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark reports whether the event was already marked and marks it otherwise.
func (g *Guard) CheckAndMark(ctx context.Context, gateway enums.Gateway, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(gateway, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Release forgets the mark so a redelivery is processed again.
func (g *Guard) Release(ctx context.Context, gateway enums.Gateway, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(gateway, eventID))
}

func (g *Guard) key(gateway enums.Gateway, eventID string) string {
	return g.store.IdempotencyKey(g.scope, string(gateway)+":"+eventID)
}
