// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    slog.Level

	Store   StoreConfig
	Catalog CatalogConfig
	Flow    FlowConfig
	SSE     SSEConfig

	// WorkspaceIdleTTL is how long an unused workspace stays resident.
	WorkspaceIdleTTL time.Duration
	// GRPCHealthPort enables the gRPC health server when non-empty.
	GRPCHealthPort string

	TranscriptLog TranscriptLogConfig
}

// StoreConfig selects the durable key-value backend.
type StoreConfig struct {
	Driver   string // sqlite, redis or memory
	DBPath   string
	RedisURL string
}

// CatalogConfig locates the naming catalog.
type CatalogConfig struct {
	// Path to a YAML catalog; empty uses the built-in one.
	Path  string
	Watch bool
}

// FlowConfig tunes the conversation pacing.
type FlowConfig struct {
	// DelayScale multiplies every compose delay; 0 lands turns immediately.
	DelayScale            float64
	CancelPendingOnSwitch bool
}

// SSEConfig tunes the push endpoints.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	ReplaySize        int
}

// TranscriptLogConfig controls NDJSON transcript logging.
type TranscriptLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxSizeMB     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Store: StoreConfig{
			Driver:   strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			DBPath:   getEnv("DB_PATH", "./data/qiming.db"),
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Catalog: CatalogConfig{
			Path:  getEnv("CATALOG_PATH", ""),
			Watch: getEnvBool("CATALOG_WATCH", false),
		},
		Flow: FlowConfig{
			DelayScale:            getEnvFloat("COMPOSE_DELAY_SCALE", 1),
			CancelPendingOnSwitch: getEnvBool("CANCEL_PENDING_ON_SWITCH", false),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE", 15*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 3*time.Second),
			ReplaySize:        getEnvInt("SSE_REPLAY_SIZE", 100),
		},
		WorkspaceIdleTTL: getEnvDuration("WORKSPACE_IDLE_TTL", 30*time.Minute),
		GRPCHealthPort:   getEnv("GRPC_HEALTH_PORT", ""),
		TranscriptLog: TranscriptLogConfig{
			Enabled:       getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:           getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			GlobalEnabled: getEnvBool("TRANSCRIPT_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("TRANSCRIPT_LOG_GLOBAL_PATH", "./data/logs/transcripts/all.ndjson"),
			QueueSize:     getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
			MaxSizeMB:     getEnvInt("TRANSCRIPT_LOG_MAX_SIZE_MB", 50),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER %q must be sqlite, redis or memory", c.Store.Driver)
	}
	if c.Catalog.Watch && c.Catalog.Path == "" {
		return errors.New("CATALOG_WATCH needs CATALOG_PATH")
	}
	if c.Flow.DelayScale < 0 {
		return errors.New("COMPOSE_DELAY_SCALE must be >= 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return errors.New("SSE_KEEPALIVE must be > 0")
	}
	if c.SSE.ReplaySize <= 0 {
		return errors.New("SSE_REPLAY_SIZE must be > 0")
	}
	if c.WorkspaceIdleTTL <= 0 {
		return errors.New("WORKSPACE_IDLE_TTL must be > 0")
	}
	if c.TranscriptLog.Enabled {
		if c.TranscriptLog.Dir == "" {
			return errors.New("TRANSCRIPT_LOG_DIR cannot be empty")
		}
		if c.TranscriptLog.GlobalEnabled && c.TranscriptLog.GlobalPath == "" {
			return errors.New("TRANSCRIPT_LOG_GLOBAL_PATH cannot be empty")
		}
		if c.TranscriptLog.QueueSize <= 0 {
			return errors.New("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins lists the browser origins allowed to call the API.
func (c *Config) AllowedOrigins() []string {
	origins := []string{"http://localhost:5173", "http://localhost:" + c.Port}
	if c.FrontendURL != "" {
		origins = append(origins, strings.TrimRight(c.FrontendURL, "/"))
	}
	return origins
}

// WebSocketOriginPatterns returns host patterns for the WebSocket origin check.
func (c *Config) WebSocketOriginPatterns() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	var patterns []string
	for _, o := range c.AllowedOrigins() {
		if _, host, ok := strings.Cut(o, "://"); ok {
			patterns = append(patterns, host)
		}
	}
	return patterns
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
