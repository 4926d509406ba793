package interceptors

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"session-authority/backend/internal/security"
)

const bearerPrefix = "bearer "

// ErrNotAccessToken is returned by Authenticate for a well-signed refresh token.
var ErrNotAccessToken = errors.New("not an access token")

// Authenticate is the stateless edge check: signature, expiry and kind. It never consults the
// revocation ledger or session store, so revoked-but-unexpired tokens pass.
func Authenticate(codec *security.TokenCodec, token string) (*security.TokenClaims, error) {
	if token == "" {
		return nil, security.ErrMalformed
	}
	claims, err := codec.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != security.KindAccess {
		return nil, ErrNotAccessToken
	}
	return claims, nil
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token from gRPC
// metadata and puts the identity in context for protected RPCs. publicMethods is the set of full
// method names that do not require a Bearer token (e.g. the health check).
func AuthUnary(codec *security.TokenCodec, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		claims, err := Authenticate(codec, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		ctx = WithIdentity(ctx, claims.SubjectID, claims.SubjectName, claims.JTI)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return BearerToken(vals[0])
}

// BearerToken returns the token of an Authorization header value, or "" if it is not a Bearer
// credential. The scheme is matched case-insensitively.
func BearerToken(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
