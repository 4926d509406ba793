package interceptors

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"session-authority/backend/internal/obs"
	"session-authority/backend/internal/security"
)

// Identity headers set by the edge for upstream services. Client-supplied values are always dropped.
const (
	HeaderSubjectID   = "X-User-Id"
	HeaderSubjectName = "X-User-Name"
)

// ErrorBody is the JSON body of an edge rejection.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
}

// EdgeHTTP returns middleware applying the stateless edge check to every request. Accepted requests
// carry the identity in context and in the X-User-Id/X-User-Name headers.
func EdgeHTTP(codec *security.TokenCodec, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(HeaderSubjectID)
			r.Header.Del(HeaderSubjectName)

			token := BearerToken(r.Header.Get("Authorization"))
			claims, err := Authenticate(codec, token)
			if err != nil {
				msg := rejectionMessage(token, err)
				logger.Debug("edge rejected request",
					zap.String("path", r.URL.Path),
					zap.String("reason", msg),
					obs.Token("token", token),
				)
				WriteUnauthorized(w, msg)
				return
			}

			r.Header.Set(HeaderSubjectID, claims.SubjectID)
			r.Header.Set(HeaderSubjectName, claims.SubjectName)
			ctx := WithIdentity(r.Context(), claims.SubjectID, claims.SubjectName, claims.JTI)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejectionMessage(token string, err error) string {
	switch {
	case token == "":
		return "missing bearer token"
	case errors.Is(err, security.ErrExpired):
		return "token expired"
	case errors.Is(err, security.ErrInvalidSignature):
		return "invalid token signature"
	case errors.Is(err, ErrNotAccessToken):
		return "access token required"
	default:
		return "malformed token"
	}
}

// WriteUnauthorized writes a 401 ErrorBody with a Bearer challenge.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Error:     http.StatusText(http.StatusUnauthorized),
		Message:   message,
		Status:    http.StatusUnauthorized,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
