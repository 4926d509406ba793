// janitor runs one purge pass (expired sessions, expired revocations, ledger retention) and exits.
// Intended for cron when the server's in-process janitor is not used.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"session-authority/backend/internal/app"
	"session-authority/backend/internal/config"
	"session-authority/backend/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("janitor: DATABASE_URL is required")
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		App:    "session-janitor",
		Env:    cfg.Env,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("build", zap.Error(err))
	}
	defer a.Close()

	if err := a.Janitor.RunOnce(ctx); err != nil {
		logger.Error("janitor run failed", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
	logger.Info("janitor run complete")
}
