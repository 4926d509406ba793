package repository

import (
	"context"
	"errors"
	"time"

	"session-authority/backend/internal/session/domain"
)

// ErrConflict is returned by Create when a concurrent writer inserted a live session with the same jti.
var ErrConflict = errors.New("session: live session with this jti already exists")

// Repository defines persistence for sessions. Lookups return (nil, nil) when no valid row matches.
type Repository interface {
	// Create revokes any live session with s.JTI and then inserts s.
	Create(ctx context.Context, s *domain.Session) error
	// FindValidByRefreshHash returns the non-revoked session whose refresh token hash matches and
	// whose refresh expiry is after now.
	FindValidByRefreshHash(ctx context.Context, hash string, now time.Time) (*domain.Session, error)
	// FindValidByRefreshHashForUpdate is FindValidByRefreshHash with a row lock held until the
	// surrounding transaction ends.
	FindValidByRefreshHashForUpdate(ctx context.Context, hash string, now time.Time) (*domain.Session, error)
	// FindValidByJTI returns the non-revoked, unexpired session for jti.
	FindValidByJTI(ctx context.Context, jti string, now time.Time) (*domain.Session, error)
	// ListActiveForSubject returns the subject's non-revoked, unexpired sessions, newest first.
	ListActiveForSubject(ctx context.Context, subjectID string, now time.Time) ([]*domain.Session, error)
	// FindExpiring returns live sessions whose refresh expiry falls before threshold.
	FindExpiring(ctx context.Context, threshold time.Time) ([]*domain.Session, error)
	// Revoke flips revoked for jti. It is idempotent and reports whether a row changed.
	Revoke(ctx context.Context, jti string) (bool, error)
	// LockSubject serializes writers of one subject's sessions until the surrounding transaction
	// ends. Login and refresh take it before touching any row so a revoke-all cannot miss a session
	// inserted by a concurrent rotation.
	LockSubject(ctx context.Context, subjectID string) error
	// RevokeAllForSubject revokes every live session of the subject and returns how many changed.
	RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error)
	// PurgeExpired deletes sessions whose refresh expiry is before now, revoked or not.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// Stats counts sessions by state at now.
	Stats(ctx context.Context, now time.Time) (domain.Stats, error)
}
