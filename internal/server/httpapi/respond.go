package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"session-authority/backend/internal/identity/service"
	"session-authority/backend/internal/server/interceptors"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, interceptors.ErrorBody{
		Error:     http.StatusText(status),
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor maps auth service errors to a status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid nickname or password"
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		return http.StatusUnauthorized, "invalid or expired refresh token"
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, service.ErrNicknameTaken):
		return http.StatusConflict, "nickname already taken"
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "user directory unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// respondServiceError writes the mapped error. Unmapped errors are logged; their text never
// reaches the client.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("op", op), zap.String("path", r.URL.Path), zap.Error(err))
	}
	respondError(w, status, msg)
}
