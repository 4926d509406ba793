// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"session-authority/backend/internal/security"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON auth API listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// MetricsAddr serves /metrics and /healthz. Empty disables it.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// GatewayAddr is the listen address of cmd/gateway.
	GatewayAddr string `mapstructure:"GATEWAY_ADDR"`
	// GatewayUpstreamURL is the backend the gateway forwards accepted requests to.
	GatewayUpstreamURL string `mapstructure:"GATEWAY_UPSTREAM_URL"`

	// DatabaseURL is the Postgres DSN. Empty runs with in-memory stores (dev only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBMaxConns caps the pgx pool size; 0 uses the pgx default.
	DBMaxConns int32 `mapstructure:"DB_MAX_CONNS"`
	// DBQueryTimeout bounds each store write transaction (e.g. "5s").
	DBQueryTimeout string `mapstructure:"DB_QUERY_TIMEOUT"`

	// JWTSecret is the HS256 signing secret: inline, "base64:<data>" or "file:<path>". At least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	JanitorSweepInterval   string `mapstructure:"JANITOR_SWEEP_INTERVAL"`
	JanitorLedgerInterval  string `mapstructure:"JANITOR_LEDGER_INTERVAL"`
	JanitorLedgerRetention string `mapstructure:"JANITOR_LEDGER_RETENTION"`
	JanitorPurgeTimeout    string `mapstructure:"JANITOR_PURGE_TIMEOUT"`
	// AuditRetention is how long session audit entries are kept (e.g. "2160h").
	AuditRetention string `mapstructure:"AUDIT_RETENTION"`

	// UserDirectoryURL is the base URL of the user directory service. Empty uses the in-memory directory.
	UserDirectoryURL string `mapstructure:"USER_DIRECTORY_URL"`
	// UserDirectoryTimeout is the per-request timeout for directory calls (e.g. "3s").
	UserDirectoryTimeout string `mapstructure:"USER_DIRECTORY_TIMEOUT"`
	// UserDirectoryCacheTTL is how long directory profiles are cached (e.g. "1m"); "0" disables caching.
	UserDirectoryCacheTTL string `mapstructure:"USER_DIRECTORY_CACHE_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31) of the in-memory directory; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// LoginRatePerMin is the per-IP budget for login and register. 0 disables limiting.
	LoginRatePerMin int `mapstructure:"LOGIN_RATE_PER_MIN"`
	// CORSAllowedOrigins is a comma-separated origin list for the HTTP API. Empty disables CORS.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// TrustedProxies is a comma-separated list of CIDRs or addresses whose X-Forwarded-For is
	// believed. Empty trusts nobody and keys clients by their connecting address.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTelEndpoint is the OTLP gRPC collector endpoint. Empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// LokiURL, when set, also pushes session audit events to Loki (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("GATEWAY_ADDR", ":8000")
	v.SetDefault("GATEWAY_UPSTREAM_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 0)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "session-authority")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JANITOR_SWEEP_INTERVAL", "6h")
	v.SetDefault("JANITOR_LEDGER_INTERVAL", "24h")
	v.SetDefault("JANITOR_LEDGER_RETENTION", "168h")
	v.SetDefault("JANITOR_PURGE_TIMEOUT", "30s")
	v.SetDefault("AUDIT_RETENTION", "2160h") // 90d
	v.SetDefault("USER_DIRECTORY_URL", "")
	v.SetDefault("USER_DIRECTORY_TIMEOUT", "3s")
	v.SetDefault("USER_DIRECTORY_CACHE_TTL", "1m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_RATE_PER_MIN", 30)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LoginRatePerMin < 0 {
		return nil, errors.New("config: LOGIN_RATE_PER_MIN must not be negative")
	}
	if _, err := cfg.TrustedProxyPrefixes(); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" && cfg.Env == "production" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// SigningSecret resolves JWT_SECRET. It fails when the secret is unset or shorter than 32 bytes.
func (c *Config) SigningSecret() ([]byte, error) {
	return security.LoadSecret(c.JWTSecret)
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// QueryTimeout returns DBQueryTimeout, or 5s.
func (c *Config) QueryTimeout() time.Duration {
	return parseDuration(c.DBQueryTimeout, 5*time.Second)
}

// SweepInterval returns JanitorSweepInterval, or 6h.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.JanitorSweepInterval, 6*time.Hour)
}

// LedgerInterval returns JanitorLedgerInterval, or 24h.
func (c *Config) LedgerInterval() time.Duration {
	return parseDuration(c.JanitorLedgerInterval, 24*time.Hour)
}

// LedgerRetention returns JanitorLedgerRetention, or 7 days.
func (c *Config) LedgerRetention() time.Duration {
	return parseDuration(c.JanitorLedgerRetention, 168*time.Hour)
}

// PurgeTimeout returns JanitorPurgeTimeout, or 30s.
func (c *Config) PurgeTimeout() time.Duration {
	return parseDuration(c.JanitorPurgeTimeout, 30*time.Second)
}

// AuditRetentionPeriod returns AuditRetention, or 90 days.
func (c *Config) AuditRetentionPeriod() time.Duration {
	return parseDuration(c.AuditRetention, 90*24*time.Hour)
}

// DirectoryTimeout returns UserDirectoryTimeout, or 3s.
func (c *Config) DirectoryTimeout() time.Duration {
	return parseDuration(c.UserDirectoryTimeout, 3*time.Second)
}

// DirectoryCacheTTL returns UserDirectoryCacheTTL. An explicit "0" disables caching; unset or
// invalid values fall back to 1m.
func (c *Config) DirectoryCacheTTL() time.Duration {
	if strings.TrimSpace(c.UserDirectoryCacheTTL) == "0" {
		return 0
	}
	return parseDuration(c.UserDirectoryCacheTTL, time.Minute)
}

// CORSOrigins returns the allowed origins from the comma-separated config.
func (c *Config) CORSOrigins() []string {
	if c == nil || c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	if c == nil || strings.TrimSpace(c.TrustedProxies) == "" {
		return nil, nil
	}
	var out []netip.Prefix
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			prefix, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("config: TRUSTED_PROXIES entry %q: %w", s, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("config: TRUSTED_PROXIES entry %q: %w", s, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
