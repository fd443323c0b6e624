// Command migrate applies or reports the embedded Postgres schema migrations.
//
//	migrate up      apply pending migrations
//	migrate status  list migrations and whether each is applied
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"planguard/internal/config"
	"planguard/internal/db"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 1 || (args[0] != "up" && args[0] != "status") {
		return fmt.Errorf("usage: migrate up|status")
	}

	cfg, err := config.LoadConfig(config.NewFileProvider(os.DirFS("/")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL.IsEmpty() {
		return fmt.Errorf("DATABASE_URL is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, db.PoolConfig{
		DSN:           cfg.Database.URL.Unmask(),
		MaxConns:      2,
		PingTimeout:   cfg.Database.AcquireTimeout,
		RetryAttempts: cfg.Database.ConnectAttempts,
		RetryInterval: time.Second,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if args[0] == "status" {
		return db.MigrationStatus(ctx, pool, logger)
	}
	if err := db.Migrate(ctx, pool, logger); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}
