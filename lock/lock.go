/*
Package lock serializes KPI recomputations of the same metric.

PURPOSE:
  Two recomputations of one metric over overlapping ranges would each
  delete and reinsert rows for the shared days. The store transaction
  keeps each unit atomic; the lock keeps the units from interleaving
  their reads and writes across processes.

IMPLEMENTATIONS:
  Local: in-process, one semaphore per key (default)
  Redis: bsm/redislock, for several processes sharing one database;
         refreshed while held so long units keep it

SEE ALSO:
  - kpi/engine.go: acquires "kpi:<METRIC>" around each recomputation
*/
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be obtained before the
// context ended or the wait budget ran out.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive locks by key. The returned release function
// must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// =============================================================================
// LOCAL - In-process locks
// =============================================================================

// Local is an in-process Locker. The zero value is not usable; call NewLocal.
type Local struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.keys[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.keys[key] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}
