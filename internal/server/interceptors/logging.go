package interceptors

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC after it completes.
// skipMethods is the set of full method names not to log (e.g. the health check).
func LoggingUnary(logger *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		subjectID, _ := GetSubjectID(ctx)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ClientIP(ctx)),
		}
		if subjectID != "" {
			fields = append(fields, zap.String("subject_id", subjectID))
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("rpc", fields...)
		}
		return resp, err
	}
}

// ClientIP returns the client IP set by WithClientIP, else from gRPC metadata (x-forwarded-for,
// x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ip := forwardedIP(first(md.Get("x-forwarded-for")), first(md.Get("x-real-ip"))); ip != "" {
			return ip
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return hostOnly(p.Addr.String())
	}
	return "unknown"
}

// RequestIP returns the connecting peer of r. Forwarding headers are ignored; use IPResolver
// when the server sits behind trusted proxies.
func RequestIP(r *http.Request) string {
	return NewIPResolver(nil).Resolve(r)
}

func forwardedIP(xff, realIP string) string {
	if s := strings.TrimSpace(xff); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	return strings.TrimSpace(realIP)
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
