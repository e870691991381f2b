// Package lock serializes reconciliation per base locale.
//
// Two interleaved reconciliations for one base locale could both observe
// OUTDATED, both export and both publish, producing two revisions for one
// logical change. The engine therefore acquires a per-ID lock for the whole
// reconcile, released on every exit path.
package lock

import (
	"context"
	"sync"

	id "balregistry/pkg/domain"
)

// Locker hands out exclusive per-base-locale leases.
type Locker interface {
	// Acquire blocks until the lock for blID is held or ctx is done. The
	// returned release function must be called exactly once.
	Acquire(ctx context.Context, blID id.BaseLocaleID) (release func(), err error)
}

// Keyed is an in-process Locker backed by one single-slot semaphore per base
// locale ID. Sufficient for a single-instance deployment; wrap with Redis
// (see RedisLocker) when several instances run the scheduler.
type Keyed struct {
	mu    sync.Mutex
	locks map[id.BaseLocaleID]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewKeyed creates an empty keyed locker.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[id.BaseLocaleID]*entry)}
}

// Acquire implements Locker. Waiting honors ctx cancellation. Entries are
// reference-counted so the map does not grow with every base locale ever
// reconciled.
func (k *Keyed) Acquire(ctx context.Context, blID id.BaseLocaleID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	e, ok := k.locks[blID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[blID] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(blID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.sem
			k.unref(blID, e)
		})
	}
	return release, nil
}

func (k *Keyed) unref(blID id.BaseLocaleID, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, blID)
	}
	k.mu.Unlock()
}
