// Command migrate applies the PostgreSQL schema for user accounts.
//
// Usage:
//
//	migrate up | down | status | version | redo | reset
//	migrate up-to <version> | down-to <version>
//	migrate create <name> sql
//
// DATABASE_URL selects the database; MIGRATIONS_DIR overrides ./migrations.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/retry"
)

const defaultMigrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down|status|version|redo|reset|up-to N|down-to N|create NAME sql>")
		os.Exit(2)
	}
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = defaultMigrationsDir
	}
	command, args := os.Args[1], os.Args[2:]

	// create only writes a file and needs no database.
	if command == "create" {
		if err := goose.RunContext(context.Background(), command, nil, dir, args...); err != nil {
			logger.Error("create migration failed", "error", err)
			os.Exit(1)
		}
		return
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err = retry.Policy{
		Attempts:  6,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("database not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}.Run(ctx, func() error { return db.PingContext(ctx) })
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("unsupported dialect", "error", err)
		os.Exit(1)
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration finished", "command", command, "dir", dir)
}
