package domain

import "time"

// RevokedEntry is a ledger entry for an access token jti that must be rejected until ExpiresAt.
type RevokedEntry struct {
	JTI       string
	ExpiresAt time.Time
	RevokedAt time.Time
}
