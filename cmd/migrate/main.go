package main

import (
	"CustodyLedger/internal/config"
	"CustodyLedger/internal/observability"
	"CustodyLedger/internal/persistence"
	"context"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment (or .env):")
		fmt.Println("  CUSTODY_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  CUSTODY_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.LogLevel))

	ctx := context.Background()
	db, err := persistence.OpenDB(ctx, cfg.PostgresDSN, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if _, err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}

	case "down":
		rolledBack, err := migrator.Down(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		if rolledBack {
			logger.Info().Msg("last migration rolled back")
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
