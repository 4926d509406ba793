package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"session-authority/backend/internal/server/interceptors"
)

// requireLiveSession checks the bearer token against the session store. EdgeHTTP only verifies
// the signature, so without this a logged-out or revoked access token would still list and revoke
// sessions until it expires.
func requireLiveSession(auth AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := interceptors.BearerToken(r.Header.Get("Authorization"))
			v := auth.Validate(r.Context(), token)
			if !v.Valid {
				logger.Debug("session no longer live", zap.String("path", r.URL.Path))
				interceptors.WriteUnauthorized(w, "session revoked or expired")
				return
			}
			ctx := interceptors.WithIdentity(r.Context(), v.SubjectID, v.SubjectName, v.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
