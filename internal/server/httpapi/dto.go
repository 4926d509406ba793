package httpapi

import (
	"time"

	auditdomain "session-authority/backend/internal/audit/domain"
	"session-authority/backend/internal/directory"
	"session-authority/backend/internal/identity/service"
	sessiondomain "session-authority/backend/internal/session/domain"
)

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by register, login and refresh.
type AuthResponse struct {
	AccessToken      string            `json:"accessToken"`
	RefreshToken     string            `json:"refreshToken"`
	TokenType        string            `json:"tokenType"`
	AccessExpiresAt  time.Time         `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time         `json:"refreshExpiresAt"`
	UserProfile      directory.Profile `json:"userProfile"`
}

func newAuthResponse(res *service.AuthResult) AuthResponse {
	return AuthResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
		UserProfile:      res.Profile,
	}
}

// ValidationResponse is returned by POST /auth/validate.
type ValidationResponse struct {
	Valid     bool       `json:"valid"`
	UserID    string     `json:"userId,omitempty"`
	Nickname  string     `json:"nickname,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func newValidationResponse(v service.Validation) ValidationResponse {
	if !v.Valid {
		return ValidationResponse{}
	}
	exp := v.ExpiresAt
	return ValidationResponse{
		Valid:     true,
		UserID:    v.SubjectID,
		Nickname:  v.SubjectName,
		SessionID: v.SessionID,
		ExpiresAt: &exp,
	}
}

// SessionView describes one live session. Token hashes are never exposed.
type SessionView struct {
	SessionID        string    `json:"sessionId"`
	CreatedAt        time.Time `json:"createdAt"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	Current          bool      `json:"current"`
}

// SessionsResponse is returned by GET /auth/sessions.
type SessionsResponse struct {
	Sessions []SessionView `json:"sessions"`
}

func newSessionsResponse(list []*sessiondomain.Session, currentJTI string) SessionsResponse {
	out := SessionsResponse{Sessions: make([]SessionView, 0, len(list))}
	for _, s := range list {
		out.Sessions = append(out.Sessions, SessionView{
			SessionID:        s.JTI,
			CreatedAt:        s.CreatedAt,
			AccessExpiresAt:  s.AccessExpiresAt,
			RefreshExpiresAt: s.RefreshExpiresAt,
			Current:          s.JTI == currentJTI,
		})
	}
	return out
}

// RevokeAllResponse is returned by POST /auth/sessions/revoke-all.
type RevokeAllResponse struct {
	Revoked int64 `json:"revoked"`
}

// StatsResponse is returned by StatsHandler.
type StatsResponse struct {
	ActiveSessions  int64 `json:"activeSessions"`
	RevokedSessions int64 `json:"revokedSessions"`
	ExpiredSessions int64 `json:"expiredSessions"`
}

// ActivityEntry is one recorded session event of the caller.
type ActivityEntry struct {
	Action    string            `json:"action"`
	SessionID string            `json:"sessionId,omitempty"`
	Source    string            `json:"source,omitempty"`
	IP        string            `json:"ip"`
	Details   map[string]string `json:"details,omitempty"`
	At        time.Time         `json:"at"`
}

// ActivityResponse is returned by GET /auth/activity.
type ActivityResponse struct {
	Entries []ActivityEntry `json:"entries"`
}

func newActivityResponse(list []*auditdomain.AuditLog) ActivityResponse {
	out := ActivityResponse{Entries: make([]ActivityEntry, 0, len(list))}
	for _, e := range list {
		out.Entries = append(out.Entries, ActivityEntry{
			Action:    e.Action,
			SessionID: e.SessionID,
			Source:    e.Source,
			IP:        e.IP,
			Details:   e.Metadata,
			At:        e.CreatedAt,
		})
	}
	return out
}

// HealthResponse is returned by GET /auth/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
