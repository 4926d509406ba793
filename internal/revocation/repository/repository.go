package repository

import (
	"context"
	"time"
)

// Repository is the revocation ledger. Entries are keyed by jti; re-adding an existing jti is a no-op.
type Repository interface {
	// Add records jti as revoked until expiresAt and reports whether a new entry was written.
	Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	// IsRevoked reports whether jti has a ledger entry, regardless of its expiry.
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// PurgeExpired removes entries whose expiry is before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// PurgeRevokedBefore removes entries revoked before cutoff.
	PurgeRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
