package domain

import "time"

// State is the lifecycle state of a session lineage. Revoked and Expired are terminal.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Session is the durable record of one issued access/refresh pair, keyed by the access token's jti.
// Token values are stored only as one-way hashes.
type Session struct {
	JTI              string
	SubjectID        string
	SubjectName      string
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Revoked          bool
	CreatedAt        time.Time
}

// State reports the lineage state at now. Refresh expiry alone decides expiration: an access token
// that has lapsed does not end the session while the refresh token is still live.
func (s *Session) State(now time.Time) State {
	switch {
	case s.Revoked:
		return StateRevoked
	case !s.RefreshExpiresAt.After(now):
		return StateExpired
	default:
		return StateActive
	}
}

// Stats counts sessions by state.
type Stats struct {
	Active  int64
	Revoked int64
	Expired int64
}
