// Package config provides environment configuration for the gateway.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Backend settings
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	DefaultBackend   string
	DefaultModel     string
	DefaultMaxTokens int

	// Retry policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMultiplier  float64
	RetryMaxDelay    time.Duration

	// Conversation repair thresholds
	RepairMinOrphans   int
	RepairDiscardRatio float64

	// Schema cache
	SchemaCacheSize int

	// NATS settings (transcript persistence; empty URL disables)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Backends
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		DefaultBackend:   getEnv("DEFAULT_BACKEND", "anthropic"),
		DefaultModel:     getEnv("DEFAULT_MODEL", ""),
		DefaultMaxTokens: getIntEnv("DEFAULT_MAX_TOKENS", 4096),

		// Retry
		RetryMaxAttempts: getIntEnv("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getDurationEnv("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMultiplier:  getFloatEnv("RETRY_MULTIPLIER", 2.0),
		RetryMaxDelay:    getDurationEnv("RETRY_MAX_DELAY", 8*time.Second),

		// Conversation repair thresholds
		RepairMinOrphans:   getIntEnv("REPAIR_MIN_ORPHANS", 3),
		RepairDiscardRatio: getFloatEnv("REPAIR_DISCARD_RATIO", 0.8),

		// Schema cache
		SchemaCacheSize: getIntEnv("SCHEMA_CACHE_SIZE", 64),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
