package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketledger-backend/pkg/redis"
)

const (
	markProcessing = "processing"
	markDone       = "done"

	// DefaultClaimTTL bounds how long a crashed consumer blocks redelivery.
	DefaultClaimTTL = 2 * time.Minute
)

// State is the outcome of claiming an event.
type State int

const (
	// Acquired means the caller owns the event and must Complete or Release it.
	Acquired State = iota
	// InFlight means another delivery holds the claim; retry later.
	InFlight
	// Done means the event was already applied; acknowledge it.
	Done
)

// Store is the slice of the Redis client the manager needs.
type Store interface {
	redis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Manager tracks which outbox events one consumer has applied. Keys follow
// `ml:idempotency:evt:processed:<consumer>:<event_id>`. A claim first holds
// a short-lived processing mark so a worker that dies mid-event does not
// swallow the redelivery; Complete swaps it for a done mark that lives for
// the full TTL.
type Manager struct {
	store    Store
	consumer string
	ttl      time.Duration
	claimTTL time.Duration
}

func NewManager(store Store, consumer string, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl <= 0:
		return nil, errors.New("ttl must be positive")
	}
	return &Manager{
		store:    store,
		consumer: consumer,
		ttl:      ttl,
		claimTTL: min(ttl, DefaultClaimTTL),
	}, nil
}

func (m *Manager) Claim(ctx context.Context, eventID uuid.UUID) (State, error) {
	key, err := m.key(eventID)
	if err != nil {
		return InFlight, err
	}
	claimed, err := m.store.SetNX(ctx, key, markProcessing, m.claimTTL)
	if err != nil {
		return InFlight, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if claimed {
		return Acquired, nil
	}
	mark, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// the claim lapsed between SETNX and GET; let the next delivery take it
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read event mark %s: %w", eventID, err)
	case mark == markDone:
		return Done, nil
	default:
		return InFlight, nil
	}
}

// Complete records the event as applied for the manager's TTL.
func (m *Manager) Complete(ctx context.Context, eventID uuid.UUID) error {
	key, err := m.key(eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markDone, m.ttl)
}

// Release drops a claim so the next delivery is processed again.
func (m *Manager) Release(ctx context.Context, eventID uuid.UUID) error {
	key, err := m.key(eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(eventID uuid.UUID) (string, error) {
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+m.consumer, eventID.String()), nil
}
