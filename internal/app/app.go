// Package app assembles the session authority from configuration: stores, user directory,
// token codec, auth service and janitor. Commands share it so they run the same code paths.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"session-authority/backend/internal/audit"
	auditrepo "session-authority/backend/internal/audit/repository"
	"session-authority/backend/internal/config"
	"session-authority/backend/internal/db"
	"session-authority/backend/internal/directory"
	"session-authority/backend/internal/health"
	"session-authority/backend/internal/identity/service"
	"session-authority/backend/internal/janitor"
	revocationrepo "session-authority/backend/internal/revocation/repository"
	"session-authority/backend/internal/security"
	"session-authority/backend/internal/server/interceptors"
	sessionrepo "session-authority/backend/internal/session/repository"
	"session-authority/backend/internal/telemetry"
)

const directoryCacheSize = 4096

// App is the assembled service. Close releases the database pool.
type App struct {
	Codec    *security.TokenCodec
	Auth     *service.AuthService
	Janitor  *janitor.Janitor
	Sessions sessionrepo.Repository
	Ledger   revocationrepo.Repository
	Audit    *audit.Logger
	Pool     *pgxpool.Pool // nil in memory mode
	Pingers  map[string]health.Pinger
}

// Build wires the service from cfg. With no DATABASE_URL the stores are in memory, and with no
// USER_DIRECTORY_URL the directory is in memory; both are for development only. Session events go
// to emitter (may be nil) and to the audit trail.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, emitter telemetry.EventEmitter) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	secret, err := cfg.SigningSecret()
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET: %w", err)
	}
	codec, err := security.NewTokenCodec(secret, cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	a := &App{Codec: codec, Pingers: make(map[string]health.Pinger)}
	var (
		tx        db.Transactor
		auditRepo auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.Sessions = sessionrepo.NewPostgresRepository(pool)
		a.Ledger = revocationrepo.NewPostgresRepository(pool)
		auditRepo = auditrepo.NewPostgresRepository(pool)
		a.Pingers["postgres"] = pool
		tx = db.NewPgxTransactor(pool, logger)
	} else {
		logger.Warn("DATABASE_URL not set; sessions and revocations are kept in memory")
		a.Sessions = sessionrepo.NewMemoryRepository()
		a.Ledger = revocationrepo.NewMemoryRepository(nil)
		auditRepo = auditrepo.NewMemoryRepository()
		tx = db.NewMemoryTransactor()
	}

	dir, err := newDirectory(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Audit = audit.NewLogger(auditRepo, interceptors.ClientIP)
	events := telemetry.MultiEmitter{a.Audit}
	if emitter != nil {
		events = append(events, emitter)
	}

	a.Auth = service.NewAuthService(dir, a.Sessions, a.Ledger, tx, codec, logger,
		service.WithWriteTimeout(cfg.QueryTimeout()),
		service.WithEmitter(events),
	)
	jopts := []janitor.Option{
		janitor.WithEmitter(events),
		janitor.WithAuditLog(auditRepo, cfg.AuditRetentionPeriod()),
	}
	a.Janitor = janitor.New(janitor.Config{
		SweepInterval:   cfg.SweepInterval(),
		LedgerInterval:  cfg.LedgerInterval(),
		LedgerRetention: cfg.LedgerRetention(),
		PurgeTimeout:    cfg.PurgeTimeout(),
		ExpiringWithin:  time.Hour,
	}, a.Sessions, a.Ledger, logger, jopts...)
	return a, nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// RegisterPingers adds the app's dependencies to c.
func (a *App) RegisterPingers(c *health.Checker) {
	for name, p := range a.Pingers {
		c.Add(name, p)
	}
}

func newDirectory(cfg *config.Config, logger *zap.Logger) (directory.Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dir directory.Directory
	if cfg.UserDirectoryURL == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("USER_DIRECTORY_URL must be set when APP_ENV=production")
		}
		logger.Warn("USER_DIRECTORY_URL not set; using the in-memory user directory")
		dir = directory.NewMemoryDirectory(security.NewPasswordHasher(cfg.BcryptCost))
	} else {
		client, err := directory.NewHTTPClient(directory.HTTPClientConfig{
			BaseURL: cfg.UserDirectoryURL,
			Timeout: cfg.DirectoryTimeout(),
		}, logger)
		if err != nil {
			return nil, err
		}
		dir = client
	}
	if ttl := cfg.DirectoryCacheTTL(); ttl > 0 {
		dir = directory.NewCachingDirectory(dir, directoryCacheSize, ttl)
	}
	return dir, nil
}
