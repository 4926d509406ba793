package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"session-authority/backend/internal/security"
	"session-authority/backend/internal/server/interceptors"
)

// Config wires the HTTP API.
type Config struct {
	Auth AuthService
	// Audit backs GET /auth/activity. If nil the route is not registered.
	Audit  AuditReader
	Codec  *security.TokenCodec
	Logger *zap.Logger
	// Health backs GET /auth/health. May be nil.
	Health func(context.Context) error
	// LoginRatePerMin is the per-IP budget shared by login and register; 0 disables limiting.
	LoginRatePerMin int
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
	// TrustedProxies are the peers whose X-Forwarded-For is believed when keying clients.
	TrustedProxies []netip.Prefix
}

// NewRouter returns the API handler with CORS, recovery, access logging and tracing installed.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := NewHandler(cfg.Auth, cfg.Health, logger)
	h.audit = cfg.Audit
	edge := interceptors.EdgeHTTP(cfg.Codec, logger)
	live := requireLiveSession(cfg.Auth, logger)
	protected := func(hf http.HandlerFunc) http.Handler { return edge(live(hf)) }
	ips := interceptors.NewIPResolver(cfg.TrustedProxies)
	limited := func(hf http.HandlerFunc) http.Handler { return hf }
	if cfg.LoginRatePerMin > 0 {
		l := newIPLimiter(cfg.LoginRatePerMin, ips)
		limited = func(hf http.HandlerFunc) http.Handler { return l.middleware(hf) }
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	api.Handle("/auth/register", limited(h.Register)).Methods(http.MethodPost)
	api.Handle("/auth/login", limited(h.Login)).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	api.HandleFunc("/auth/validate", h.Validate).Methods(http.MethodPost)
	api.HandleFunc("/auth/health", h.Health).Methods(http.MethodGet)
	api.Handle("/auth/sessions", protected(h.Sessions)).Methods(http.MethodGet)
	api.Handle("/auth/sessions/revoke-all", protected(h.RevokeAll)).Methods(http.MethodPost)
	if cfg.Audit != nil {
		api.Handle("/auth/activity", protected(h.Activity)).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Use(accessLog(logger, ips))
	router.Use(recovery(logger))

	var handler http.Handler = router
	if len(cfg.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}).Handler(handler)
	}
	return otelhttp.NewHandler(handler, "auth-api")
}

// NewServer returns an http.Server for handler with the API timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *zap.Logger, ips *interceptors.IPResolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ip := ips.Resolve(r)
			r = r.WithContext(interceptors.WithClientIP(r.Context(), ip))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if r.URL.Path == "/api/v1/auth/health" {
				return
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("client_ip", ip),
			)
		})
	}
}

func recovery(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("panic in handler",
						zap.Any("panic", p),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					respondError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
