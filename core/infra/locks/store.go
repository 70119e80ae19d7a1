package locks

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned when releasing or renewing a lock the caller does not own.
var ErrNotHeld = errors.New("lock not held")

// Lock captures the current lock ownership state.
type Lock struct {
	Resource  string    `json:"resource"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store manages exclusive resource locks.
type Store interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error)
	Release(ctx context.Context, resource, owner string) error
	Renew(ctx context.Context, resource, owner string, ttl time.Duration) error
	Get(ctx context.Context, resource string) (*Lock, error)
}
