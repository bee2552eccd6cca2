// Package config loads process configuration from environment variables:
// plain env-var reads with defaults, no required variables, and a
// secondary optional YAML overlay.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full set of env-driven server settings. Every field has
// a usable default; no env var is required.
type Config struct {
	Port string

	// StorageDriver is "sqlite" (default) or "postgres". With "postgres",
	// the Signal Log, STATE store and Decision Store all open PostgresDSN;
	// the Idempotency Index stays on SQLite or Redis.
	StorageDriver string

	IdempotencyDBPath string
	SignalLogDBPath   string
	StateStoreDBPath  string
	DecisionDBPath    string
	PostgresDSN       string

	// RedisAddr, when non-empty, switches the Idempotency Index to the
	// horizontally-shareable Redis backend instead of the embedded one.
	RedisAddr string
	RedisTTL  time.Duration

	DecisionPolicyPath string

	LogLevel string

	// AuthEnabled and JWTSigningKey gate the optional bearer-auth
	// middleware; off by default — see pkg/authmw.
	AuthEnabled   bool
	JWTSigningKey string

	// RateLimitEnabled and RateLimitRPS gate the optional query-route rate
	// limiter; unlimited by default — see pkg/ratelimit.
	RateLimitEnabled bool
	RateLimitRPS     float64

	// ConfigFilePath, when set, is a YAML overlay applied on top of the
	// env-derived defaults (see LoadWithOverlay).
	ConfigFilePath string
}

// Load reads Config from the process environment.
func Load() *Config {
	return &Config{
		Port:               getenv("PORT", "8080"),
		StorageDriver:      getenv("STORAGE_DRIVER", "sqlite"),
		IdempotencyDBPath:  getenv("IDEMPOTENCY_DB_PATH", "licl_idempotency.db"),
		SignalLogDBPath:    getenv("SIGNAL_LOG_DB_PATH", "licl_signals.db"),
		StateStoreDBPath:   getenv("STATE_STORE_DB_PATH", "licl_state.db"),
		DecisionDBPath:     getenv("DECISION_DB_PATH", "licl_decisions.db"),
		PostgresDSN:        getenv("POSTGRES_DSN", ""),
		RedisAddr:          getenv("REDIS_ADDR", ""),
		RedisTTL:           getDuration("REDIS_IDEMPOTENCY_TTL", 0),
		DecisionPolicyPath: getenv("DECISION_POLICY_PATH", "policies/default.json"),
		LogLevel:           getenv("LOG_LEVEL", "INFO"),
		AuthEnabled:        getBool("AUTH_ENABLED", false),
		JWTSigningKey:      getenv("JWT_SIGNING_KEY", ""),
		RateLimitEnabled:   getBool("RATE_LIMIT_ENABLED", false),
		RateLimitRPS:       getFloat("RATE_LIMIT_RPS", 50),
		ConfigFilePath:     getenv("CONFIG_FILE_PATH", ""),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
