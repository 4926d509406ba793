// Package httpapi serves the JSON auth API: register, login, refresh, logout, validate and the
// caller's own sessions. Fleet-wide session statistics are served separately by StatsHandler.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	auditdomain "session-authority/backend/internal/audit/domain"
	"session-authority/backend/internal/identity/service"
	"session-authority/backend/internal/obs"
	"session-authority/backend/internal/server/interceptors"
	sessiondomain "session-authority/backend/internal/session/domain"
)

const (
	maxBodyBytes      = 64 << 10
	minNicknameLength = 3
	maxNicknameLength = 20
	minPasswordLength = 6

	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// AuthService is the session manager as seen by the HTTP layer.
type AuthService interface {
	Register(ctx context.Context, nickname, password string) (*service.AuthResult, error)
	Login(ctx context.Context, nickname, password string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	Validate(ctx context.Context, token string) service.Validation
	ActiveSessions(ctx context.Context, subjectID string) ([]*sessiondomain.Session, error)
	RevokeAllSessions(ctx context.Context, subjectID string) (int64, error)
}

// StatsSource reports fleet-wide session counts.
type StatsSource interface {
	Stats(ctx context.Context) (sessiondomain.Stats, error)
}

// AuditReader lists a subject's recorded session events.
type AuditReader interface {
	Recent(ctx context.Context, subjectID string, limit int32) ([]*auditdomain.AuditLog, error)
}

// Handler implements the auth endpoints.
type Handler struct {
	auth   AuthService
	audit  AuditReader
	health func(context.Context) error
	logger *zap.Logger
}

// NewHandler returns a Handler. health may be nil.
func NewHandler(auth AuthService, health func(context.Context) error, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auth: auth, health: health, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	if msg := validateRegistration(req); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	h.logger.Info("registration attempt", zap.String("nickname", req.Nickname))
	res, err := h.auth.Register(r.Context(), req.Nickname, req.Password)
	if err != nil {
		h.respondServiceError(w, r, "register", err)
		return
	}
	respondJSON(w, http.StatusCreated, newAuthResponse(res))
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Nickname) == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "nickname and password are required")
		return
	}
	h.logger.Info("login attempt", zap.String("nickname", req.Nickname))
	res, err := h.auth.Login(r.Context(), req.Nickname, req.Password)
	if err != nil {
		h.respondServiceError(w, r, "login", err)
		return
	}
	respondJSON(w, http.StatusOK, newAuthResponse(res))
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondServiceError(w, r, "refresh", err)
		return
	}
	respondJSON(w, http.StatusOK, newAuthResponse(res))
}

// Logout handles POST /auth/logout with the access token as Bearer credential.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := interceptors.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		interceptors.WriteUnauthorized(w, "missing bearer token")
		return
	}
	h.logger.Info("logout request", obs.Token("token", token))
	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.respondServiceError(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Validate handles POST /auth/validate. It always answers 200; an absent or bad token is
// reported as {"valid": false}.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	token := interceptors.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		respondJSON(w, http.StatusOK, ValidationResponse{})
		return
	}
	respondJSON(w, http.StatusOK, newValidationResponse(h.auth.Validate(r.Context(), token)))
}

// Sessions handles GET /auth/sessions for the caller identified by the edge check.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := interceptors.GetSubjectID(r.Context())
	if !ok {
		interceptors.WriteUnauthorized(w, "missing bearer token")
		return
	}
	list, err := h.auth.ActiveSessions(r.Context(), subjectID)
	if err != nil {
		h.respondServiceError(w, r, "sessions", err)
		return
	}
	current, _ := interceptors.GetSessionID(r.Context())
	respondJSON(w, http.StatusOK, newSessionsResponse(list, current))
}

// RevokeAll handles POST /auth/sessions/revoke-all: every session of the caller, the current one
// included, is revoked.
func (h *Handler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := interceptors.GetSubjectID(r.Context())
	if !ok {
		interceptors.WriteUnauthorized(w, "missing bearer token")
		return
	}
	n, err := h.auth.RevokeAllSessions(r.Context(), subjectID)
	if err != nil {
		h.respondServiceError(w, r, "revoke_all", err)
		return
	}
	respondJSON(w, http.StatusOK, RevokeAllResponse{Revoked: n})
}

// Activity handles GET /auth/activity?limit=N: the caller's newest audit entries.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := interceptors.GetSubjectID(r.Context())
	if !ok {
		interceptors.WriteUnauthorized(w, "missing bearer token")
		return
	}
	if h.audit == nil {
		respondError(w, http.StatusNotFound, "route not found")
		return
	}
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}
	entries, err := h.audit.Recent(r.Context(), subjectID, int32(limit))
	if err != nil {
		h.respondServiceError(w, r, "activity", err)
		return
	}
	respondJSON(w, http.StatusOK, newActivityResponse(entries))
}

// StatsHandler serves GET /sessions/stats. It reveals counts across all subjects, so it is
// mounted on the operator metrics listener rather than on the public API.
func StatsHandler(src StatsSource, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{logger: logger}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		st, err := src.Stats(r.Context())
		if err != nil {
			h.respondServiceError(w, r, "stats", err)
			return
		}
		respondJSON(w, http.StatusOK, StatsResponse{
			ActiveSessions:  st.Active,
			RevokedSessions: st.Revoked,
			ExpiredSessions: st.Expired,
		})
	})
}

// Health handles GET /auth/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "DOWN", Service: "auth"})
			return
		}
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "UP", Service: "auth"})
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func validateRegistration(req RegisterRequest) string {
	var problems []string
	if n := utf8.RuneCountInString(req.Nickname); n < minNicknameLength || n > maxNicknameLength {
		problems = append(problems, "nickname must be 3 to 20 characters")
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		problems = append(problems, "password must be at least 6 characters")
	}
	if len(problems) == 0 {
		return ""
	}
	return "validation failed: " + strings.Join(problems, ", ")
}
