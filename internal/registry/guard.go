package registry

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
)

// clickGate serializes every click registration in this process.
//
// The cross-link "first click" check reads rows outside the key being
// upserted, which a plain per-key upsert does not cover. The gate only
// protects callers inside one process; callers in other processes are
// ordered by the backend (unique keys, and the Postgres advisory lock).
var clickGate = newGuard()

// guard is a single-slot critical section whose acquisition honours ctx.
type guard struct {
	sem *semaphore.Weighted
}

func newGuard() *guard {
	return &guard{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the gate. The gate is released on every path,
// including panics. A context that ends while waiting is a storage timeout.
func (g *guard) Do(ctx context.Context, op, key string, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errs.Storage(op, key, err)
	}
	defer g.sem.Release(1)
	return fn()
}
