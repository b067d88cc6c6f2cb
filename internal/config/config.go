// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Upstream modes.
const (
	UpstreamModeHTTP = "http"
	UpstreamModeGRPC = "grpc"
)

// Store backends.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	CORSOrigins []string
	Upstream    UpstreamConfig
	RateLimit   RateLimitConfig
	SSE         SSEConfig
	Metrics     bool
	Client      ClientConfig
	Store       StoreConfig
	LogLevel    slog.Level
}

// UpstreamConfig selects and configures the model provider behind the relay.
type UpstreamConfig struct {
	Mode              string
	URL               string // REST base, e.g. https://api.cloudflare.com/client/v4/accounts/<id>/ai
	Token             string
	GRPCAddr          string
	ChatModel         string
	ImageModel        string
	SystemPrompt      string
	DefaultImageSteps int
}

// RateLimitConfig controls the per-client sliding window limiter.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the streaming endpoints.
type SSEConfig struct {
	MaxRequestBodySize int64
}

// ClientConfig configures the CLI client.
type ClientConfig struct {
	RelayURL string
}

// StoreConfig selects the durable key-value backend used by the client stores.
type StoreConfig struct {
	Backend    string
	Path       string
	RedisURL   string
	QuotaBytes int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8787"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		Upstream: UpstreamConfig{
			Mode:              strings.ToLower(getEnv("UPSTREAM_MODE", UpstreamModeHTTP)),
			URL:               getEnv("UPSTREAM_URL", ""),
			Token:             getEnv("UPSTREAM_TOKEN", ""),
			GRPCAddr:          getEnv("UPSTREAM_GRPC_ADDR", "localhost:50051"),
			ChatModel:         getEnv("CHAT_MODEL", "@cf/deepseek-ai/deepseek-r1-distill-qwen-32b"),
			ImageModel:        getEnv("IMAGE_MODEL", "@cf/black-forest-labs/flux-1-schnell"),
			SystemPrompt:      getEnv("SYSTEM_PROMPT", "You are a helpful AI assistant that provides clear and concise responses."),
			DefaultImageSteps: getEnvInt("DEFAULT_IMAGE_STEPS", 4),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		},
		Metrics: getEnvBool("METRICS_ENABLED", true),
		Client: ClientConfig{
			RelayURL: strings.TrimRight(getEnv("RELAY_URL", "http://127.0.0.1:8787"), "/"),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(getEnv("STORE_BACKEND", StoreBackendSQLite)),
			Path:       getEnv("STORE_PATH", "./data/studio.db"),
			RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379/0"),
			QuotaBytes: int64(getEnvInt("STORE_QUOTA_BYTES", 5<<20)),
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Upstream.Mode {
	case UpstreamModeHTTP, UpstreamModeGRPC:
	default:
		return fmt.Errorf("UPSTREAM_MODE must be %q or %q, got %q", UpstreamModeHTTP, UpstreamModeGRPC, c.Upstream.Mode)
	}
	if c.Upstream.DefaultImageSteps <= 0 {
		return fmt.Errorf("DEFAULT_IMAGE_STEPS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return c.Store.Validate()
}

// ValidateServer checks the settings only the relay server needs.
func (c *Config) ValidateServer() error {
	if c.Upstream.Mode == UpstreamModeHTTP && c.Upstream.URL == "" {
		return fmt.Errorf("UPSTREAM_URL is required when UPSTREAM_MODE=%s", UpstreamModeHTTP)
	}
	if c.Upstream.Mode == UpstreamModeGRPC && c.Upstream.GRPCAddr == "" {
		return fmt.Errorf("UPSTREAM_GRPC_ADDR is required when UPSTREAM_MODE=%s", UpstreamModeGRPC)
	}
	return nil
}

// Validate checks the store settings.
func (s StoreConfig) Validate() error {
	switch s.Backend {
	case StoreBackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("STORE_PATH cannot be empty")
		}
	case StoreBackendRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", s.Backend)
	}
	return nil
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

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}
