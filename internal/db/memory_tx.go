package db

import (
	"context"
	"sync"
)

type memTxKey struct{}

// MemoryTransactor serializes transactions for the in-memory repositories. It gives isolation
// (no two WithTx bodies interleave) but no rollback, so callers perform fallible non-store work
// before their first write.
type MemoryTransactor struct {
	mu sync.Mutex
}

// NewMemoryTransactor returns a MemoryTransactor.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// WithTx runs fn while holding the transactor lock. Nested calls join the outer transaction.
func (t *MemoryTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}
