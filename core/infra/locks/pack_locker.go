package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cordum/cordum-packs/core/infra/logging"
	"github.com/cordum/cordum-packs/core/packs"
)

// PackLocker serializes lifecycle operations per pack name. A held lock is renewed every
// third of its TTL until released, so long cascades keep exclusivity.
type PackLocker struct {
	store Store
	ttl   time.Duration
}

// NewPackLocker wraps a lock store. ttl <= 0 selects the store default.
func NewPackLocker(store Store, ttl time.Duration) *PackLocker {
	return &PackLocker{store: store, ttl: normalizeTTL(ttl)}
}

// LockPack acquires the pack lock or fails with packs.ErrPackLocked.
func (l *PackLocker) LockPack(ctx context.Context, pack string) (func(), error) {
	owner := uuid.NewString()
	resource := "pack:" + pack
	_, ok, err := l.store.Acquire(ctx, resource, owner, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, l.lockedError(ctx, resource, pack)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(resource, owner, pack, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.store.Release(releaseCtx, resource, owner); err != nil {
				logging.Warn("locks", "pack lock release failed", "pack", pack, "error", err)
			}
		})
	}, nil
}

func (l *PackLocker) renew(resource, owner, pack string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := l.store.Renew(ctx, resource, owner, l.ttl)
			cancel()
			if errors.Is(err, ErrNotHeld) {
				logging.Error("locks", "pack lock lost", "pack", pack)
				return
			}
			if err != nil {
				logging.Warn("locks", "pack lock renew failed", "pack", pack, "error", err)
			}
		}
	}
}

func (l *PackLocker) lockedError(ctx context.Context, resource, pack string) error {
	holder, err := l.store.Get(ctx, resource)
	if err != nil || holder == nil || holder.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: %s", packs.ErrPackLocked, pack)
	}
	return fmt.Errorf("%w: %s until %s", packs.ErrPackLocked, pack, holder.ExpiresAt.Format(time.RFC3339))
}
