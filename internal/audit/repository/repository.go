package repository

import (
	"context"
	"time"

	"session-authority/backend/internal/audit/domain"
)

// Repository defines persistence for the session audit trail.
type Repository interface {
	// Create appends a; ID is assigned by the store.
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListBySubject returns the newest entries for subjectID first, at most limit of them.
	ListBySubject(ctx context.Context, subjectID string, limit int32) ([]*domain.AuditLog, error)
	// PurgeBefore deletes entries created before cutoff and returns how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
