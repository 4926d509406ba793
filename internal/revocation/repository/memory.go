package repository

import (
	"context"
	"sync"
	"time"

	"session-authority/backend/internal/revocation/domain"
)

// MemoryRepository is an in-process ledger.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string]domain.RevokedEntry
	now     func() time.Time
}

// NewMemoryRepository returns an empty ledger. now stamps RevokedAt; nil means time.Now.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{entries: make(map[string]domain.RevokedEntry), now: now}
}

func (r *MemoryRepository) Add(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[jti]; ok {
		return false, nil
	}
	r.entries[jti] = domain.RevokedEntry{JTI: jti, ExpiresAt: expiresAt, RevokedAt: r.now().UTC()}
	return true, nil
}

func (r *MemoryRepository) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[jti]
	return ok, nil
}

func (r *MemoryRepository) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	return r.purge(func(e domain.RevokedEntry) bool { return e.ExpiresAt.Before(now) }), nil
}

func (r *MemoryRepository) PurgeRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return r.purge(func(e domain.RevokedEntry) bool { return e.RevokedAt.Before(cutoff) }), nil
}

// Get returns the entry for jti.
func (r *MemoryRepository) Get(jti string) (domain.RevokedEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jti]
	return e, ok
}

func (r *MemoryRepository) purge(match func(domain.RevokedEntry) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for jti, e := range r.entries {
		if match(e) {
			delete(r.entries, jti)
			n++
		}
	}
	return n
}
