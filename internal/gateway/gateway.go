// Package gateway is the edge hop: it applies the stateless token check and forwards accepted
// requests, with the caller's identity in X-User-Id/X-User-Name, to a single upstream.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"session-authority/backend/internal/security"
	"session-authority/backend/internal/server/interceptors"
)

// DefaultPublicPaths are forwarded without a bearer token.
var DefaultPublicPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/auth/refresh",
	"/api/v1/auth/health",
	"/api/v1/auth/validate",
}

// Config configures the gateway handler.
type Config struct {
	Upstream *url.URL
	Codec    *security.TokenCodec
	Logger   *zap.Logger
	// PublicPaths are matched exactly; nil means DefaultPublicPaths.
	PublicPaths []string
	// Transport overrides the upstream transport (tests).
	Transport http.RoundTripper
}

// NewHandler returns the gateway handler. /healthz is answered locally.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Upstream == nil || cfg.Upstream.Scheme == "" || cfg.Upstream.Host == "" {
		return nil, errors.New("gateway: upstream URL is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("gateway: token codec is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	public := cfg.PublicPaths
	if public == nil {
		public = DefaultPublicPaths
	}
	publicSet := make(map[string]bool, len(public))
	for _, p := range public {
		publicSet[p] = true
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	upstream := cfg.Upstream
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: otelhttp.NewTransport(transport),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(interceptors.ErrorBody{
				Error:     http.StatusText(http.StatusBadGateway),
				Message:   "upstream unavailable",
				Status:    http.StatusBadGateway,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		},
	}
	protected := interceptors.EdgeHTTP(cfg.Codec, logger)(proxy)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || publicSet[r.URL.Path] {
			r.Header.Del(interceptors.HeaderSubjectID)
			r.Header.Del(interceptors.HeaderSubjectName)
			proxy.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	}))
	return otelhttp.NewHandler(mux, "gateway"), nil
}
