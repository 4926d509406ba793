package interceptors

import "context"

type contextKey struct{ name string }

var (
	subjectIDKey   = contextKey{"subject_id"}
	subjectNameKey = contextKey{"subject_name"}
	sessionIDKey   = contextKey{"session_id"}
	clientIPKey    = contextKey{"client_ip"}
)

// WithIdentity returns a context carrying the authenticated subject and the session (access jti).
// Handlers read these via GetSubjectID, GetSubjectName, GetSessionID.
func WithIdentity(ctx context.Context, subjectID, subjectName, sessionID string) context.Context {
	ctx = context.WithValue(ctx, subjectIDKey, subjectID)
	ctx = context.WithValue(ctx, subjectNameKey, subjectName)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return ctx
}

// GetSubjectID returns the subject id from context and true if set; otherwise "", false.
func GetSubjectID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectIDKey).(string)
	return v, ok
}

// GetSubjectName returns the subject display name from context and true if set; otherwise "", false.
func GetSubjectName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectNameKey).(string)
	return v, ok
}

// GetSessionID returns the session id (access token jti) from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}

// WithClientIP returns a context carrying the caller's IP for code that has no request at hand
// (audit events). ClientIP prefers it over gRPC metadata.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}
