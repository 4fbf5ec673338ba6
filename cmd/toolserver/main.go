// The toolserver binary is the remote tool backend: it owns a SQLite banking
// store and exposes the data operations as named calls over stdin/stdout.
// Spawned and supervised by the main service; can be run manually for
// debugging:
//
//	SQLITE_DB_PATH=data/banking.db go run ./cmd/toolserver
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bankassist/internal/bank"
	"bankassist/internal/config"
	"bankassist/internal/logging"
	"bankassist/internal/toolrpc"
	"bankassist/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Log to stderr only: stdout carries the protocol.
	logger := logging.NewStderrLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting tool server", "db", cfg.SQLitePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bank.NewSQLite(ctx, cfg.SQLitePath, logger, nil)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if cfg.SeedDemo {
		if err := store.SeedDemo(ctx); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	server := toolrpc.NewServer(store, logger)
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("tool server stopped")
	return nil
}
