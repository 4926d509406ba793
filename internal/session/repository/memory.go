package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"session-authority/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository used by tests and single-node development runs.
// Rows are never overwritten; a reused jti revokes the prior row and appends a new one.
type MemoryRepository struct {
	mu   sync.Mutex
	rows []*domain.Session
	now  func() time.Time
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.JTI == s.JTI && !row.Revoked {
			row.Revoked = true
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}
	s.Revoked = false
	cp := *s
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MemoryRepository) FindValidByRefreshHash(_ context.Context, hash string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(s *domain.Session) bool { return s.RefreshTokenHash == hash }, now), nil
}

// FindValidByRefreshHashForUpdate holds no lock of its own; callers serialize through
// db.MemoryTransactor.
func (r *MemoryRepository) FindValidByRefreshHashForUpdate(ctx context.Context, hash string, now time.Time) (*domain.Session, error) {
	return r.FindValidByRefreshHash(ctx, hash, now)
}

func (r *MemoryRepository) FindValidByJTI(_ context.Context, jti string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(s *domain.Session) bool { return s.JTI == jti }, now), nil
}

func (r *MemoryRepository) ListActiveForSubject(_ context.Context, subjectID string, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, row := range r.rows {
		if row.SubjectID == subjectID && row.State(now) == domain.StateActive {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) FindExpiring(_ context.Context, threshold time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, row := range r.rows {
		if !row.Revoked && row.RefreshExpiresAt.Before(threshold) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RefreshExpiresAt.Before(out[j].RefreshExpiresAt) })
	return out, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, row := range r.rows {
		if row.JTI == jti && !row.Revoked {
			row.Revoked = true
			changed = true
		}
	}
	return changed, nil
}

func (r *MemoryRepository) RevokeAllForSubject(_ context.Context, subjectID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.SubjectID == subjectID && !row.Revoked {
			row.Revoked = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var n int64
	for _, row := range r.rows {
		if row.RefreshExpiresAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	for i := len(kept); i < len(r.rows); i++ {
		r.rows[i] = nil
	}
	r.rows = kept
	return n, nil
}

func (r *MemoryRepository) Stats(_ context.Context, now time.Time) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st domain.Stats
	for _, row := range r.rows {
		switch row.State(now) {
		case domain.StateActive:
			st.Active++
		case domain.StateRevoked:
			st.Revoked++
		case domain.StateExpired:
			st.Expired++
		}
	}
	return st, nil
}

// Len returns the number of stored rows, revoked and expired included.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *MemoryRepository) findLocked(match func(*domain.Session) bool, now time.Time) *domain.Session {
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if match(row) && row.State(now) == domain.StateActive {
			cp := *row
			return &cp
		}
	}
	return nil
}

// LockSubject is a no-op: db.MemoryTransactor already runs one transaction at a time.
func (r *MemoryRepository) LockSubject(context.Context, string) error {
	return nil
}
