package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"wallet-ledger/config"
	"wallet-ledger/internal/adapter/storage/migrate"
	"wallet-ledger/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  WLEDGER_DATABASE_*  - connection settings (see config.yaml)")
		fmt.Println("  MIGRATIONS_DIR      - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("ledger-migrate", cfg.Log.Level, cfg.Log.Pretty)

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, os.DirFS(migrationsDir), log)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("Migrate up failed")
		}
		log.Info().Msg("All migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("Migrate down failed")
		}
		log.Info().Msg("Last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
