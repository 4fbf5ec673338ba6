package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	MetricsNamespace string

	// Data store. SQLitePath is the embedded store; DatabaseURL, when set,
	// switches the embedded backend to Postgres.
	SQLitePath  string
	DatabaseURL string
	SeedDemo    bool

	// Remote tool backend. Empty command disables it and the embedded
	// store is used directly.
	ToolServerCommand []string
	ToolStartTimeout  time.Duration
	ToolCallTimeout   time.Duration

	// Chat completion collaborator.
	AnthropicAPIKey string
	AnthropicModel  string
	ChatMaxTokens   int64
	ChatTimeout     time.Duration

	// Session store. Redis when RedisAddr is set, in-process otherwise.
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisTLS           bool
	SessionIdleTimeout time.Duration

	DemoUserID string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           envStr("APP_ENV", "development"),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		LogFormat:        envStr("LOG_FORMAT", "text"),
		HTTPListenAddr:   envStr("HTTP_LISTEN_ADDR", ":8080"),
		MetricsNamespace: envStr("METRICS_NAMESPACE", "bankassist"),

		SQLitePath:  envStr("SQLITE_DB_PATH", "data/banking.db"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		SeedDemo:    envBool("SEED_DEMO_DATA", false),

		ToolStartTimeout: envDuration("TOOL_START_TIMEOUT", 10*time.Second),
		ToolCallTimeout:  envDuration("TOOL_CALL_TIMEOUT", 15*time.Second),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		ChatMaxTokens:   int64(envInt("CHAT_MAX_TOKENS", 1500)),
		ChatTimeout:     envDuration("CHAT_TIMEOUT", 30*time.Second),

		RedisAddr:          envStr("REDIS_ADDR", ""),
		RedisPassword:      envStr("REDIS_PASSWORD", ""),
		RedisDB:            envInt("REDIS_DB", 0),
		RedisTLS:           envBool("REDIS_TLS", false),
		SessionIdleTimeout: envDuration("SESSION_IDLE_TIMEOUT", time.Hour),

		DemoUserID: envStr("DEMO_USER_ID", "husamhilal"),
	}

	if cmd := envStr("TOOL_SERVER_COMMAND", ""); cmd != "" {
		cfg.ToolServerCommand = strings.Fields(cmd)
	}

	if cfg.SQLitePath == "" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("either SQLITE_DB_PATH or DATABASE_URL must be set")
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
