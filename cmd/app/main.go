package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bankassist/internal/bank"
	"bankassist/internal/config"
	"bankassist/internal/convo"
	"bankassist/internal/docscan"
	"bankassist/internal/httpserver"
	"bankassist/internal/llm"
	"bankassist/internal/logging"
	"bankassist/internal/metrics"
	"bankassist/internal/session"
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

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting bankassist", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	store, err := openStore(ctx, cfg, logger, metricRegistry)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := openSessions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	chatClient := llm.New(llm.Config{
		APIKey:    cfg.AnthropicAPIKey,
		Model:     cfg.AnthropicModel,
		MaxTokens: cfg.ChatMaxTokens,
		Timeout:   cfg.ChatTimeout,
	}, logger, metricRegistry)
	if !chatClient.Available() {
		logger.Warn("chat completion disabled: no API key configured")
	}

	analyzer := docscan.New(logger, metricRegistry)
	engine := convo.NewEngine(store, chatClient, logger, metricRegistry)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Engine:     engine,
		Sessions:   sessions,
		Analyzer:   analyzer,
		Summarizer: chatClient,
		DemoUserID: cfg.DemoUserID,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// openStore picks the banking backend. A configured tool server command is
// preferred; if it fails to start, the embedded store substitutes for it
// once, with a logged warning. The embedded store is Postgres when
// DATABASE_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (bank.Store, error) {
	if len(cfg.ToolServerCommand) > 0 {
		client := toolrpc.NewClient(toolrpc.Config{
			Command:      cfg.ToolServerCommand,
			StartTimeout: cfg.ToolStartTimeout,
			CallTimeout:  cfg.ToolCallTimeout,
		}, logger, m)
		if err := client.Start(ctx); err != nil {
			logger.Warn("tool backend unavailable, substituting embedded store", "error", err)
		} else {
			logger.Info("using remote tool backend", "command", cfg.ToolServerCommand[0])
			return client, nil
		}
	}
	return openEmbedded(ctx, cfg, logger, m)
}

func openEmbedded(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (bank.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := bank.NewPostgres(ctx, cfg.DatabaseURL, logger, m)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := store.RunMigrations(ctx, migrations.Files); err != nil {
			store.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if cfg.SeedDemo {
			if err := store.SeedDemo(ctx); err != nil {
				store.Close()
				return nil, fmt.Errorf("seed demo data: %w", err)
			}
		}
		logger.Info("using embedded postgres store")
		return store, nil
	}

	store, err := bank.NewSQLite(ctx, cfg.SQLitePath, logger, m)
	if err != nil {
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		store.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if cfg.SeedDemo {
		if err := store.SeedDemo(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	logger.Info("using embedded sqlite store", "path", cfg.SQLitePath)
	return store, nil
}

func openSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	if cfg.RedisAddr != "" {
		store := session.NewRedis(session.RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			UseTLS:      cfg.RedisTLS,
			IdleTimeout: cfg.SessionIdleTimeout,
		}, logger)
		if err := store.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
		return store, nil
	}

	store, err := session.NewMemory(cfg.SessionIdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	logger.Info("using in-process session store")
	return store, nil
}
