// migrate manages the session store schema.
//
//	migrate                    apply every pending migration
//	migrate -direction down    roll the whole schema back
//	migrate -steps -1          undo the latest migration only
//	migrate -status            print the applied version
//	migrate -list              print the embedded migrations
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"session-authority/backend/internal/config"
	"session-authority/backend/internal/db/migrate"
	"session-authority/backend/internal/obs"
)

func main() {
	direction := flag.String("direction", "up", "apply (up) or roll back (down) all migrations")
	steps := flag.Int("steps", 0, "move this many migrations forward, or back when negative; overrides -direction")
	status := flag.Bool("status", false, "print the applied schema version and exit")
	list := flag.Bool("list", false, "print the embedded migrations and exit")
	flag.Parse()

	if *list {
		names, err := migrate.Available()
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		App:    "session-migrate",
		Env:    cfg.Env,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required; the in-memory stores have no schema")
	}

	switch {
	case *status:
		version, dirty, err := migrate.Status(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("read schema version", zap.Error(err))
		}
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		if dirty {
			_ = logger.Sync()
			os.Exit(2)
		}
	case *steps != 0:
		if err := migrate.Steps(cfg.DatabaseURL, *steps); err != nil {
			logger.Fatal("migrate steps", zap.Int("steps", *steps), zap.Error(err))
		}
		logger.Info("migrations stepped", zap.Int("steps", *steps))
	default:
		if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
			logger.Fatal("migrate", zap.String("direction", *direction), zap.Error(err))
		}
		logger.Info("migrations applied", zap.String("direction", *direction))
	}
}
