package domain

import "time"

// AuditLog is one persisted session lifecycle event. SessionID is the access token jti; token
// values are never stored.
type AuditLog struct {
	ID        int64
	Action    string
	SubjectID string
	SessionID string
	Source    string
	IP        string
	Metadata  map[string]string
	CreatedAt time.Time
}
