package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the Forgeline execution core.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Limits    LimitsConfig
	Cache     CacheConfig
}

type DatabaseConfig struct {
	// URL selects the PostgreSQL store when set; empty falls back to the
	// in-memory store.
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// LimitsConfig carries the default per-tenant rate ceilings. Zero disables
// a dimension.
type LimitsConfig struct {
	InferenceCallsPerMinute int
	ExternalCallsPerMinute  int
	StorageCallsPerMinute   int
	TokensPerMinute         int
	TokensPerHour           int
	CostPerHour             float64
	CostPerDay              float64
}

type CacheConfig struct {
	MaxEntries int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("FORGELINE_PORT", 8080),
		Version: envStr("FORGELINE_VERSION", "0.2.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "forgeline"),
		},
		Limits: LimitsConfig{
			InferenceCallsPerMinute: envInt("FORGELINE_LIMIT_INFERENCE_PER_MIN", 60),
			ExternalCallsPerMinute:  envInt("FORGELINE_LIMIT_EXTERNAL_PER_MIN", 100),
			StorageCallsPerMinute:   envInt("FORGELINE_LIMIT_STORAGE_PER_MIN", 500),
			TokensPerMinute:         envInt("FORGELINE_LIMIT_TOKENS_PER_MIN", 100_000),
			TokensPerHour:           envInt("FORGELINE_LIMIT_TOKENS_PER_HOUR", 1_000_000),
			CostPerHour:             envFloat("FORGELINE_LIMIT_COST_PER_HOUR", 10.0),
			CostPerDay:              envFloat("FORGELINE_LIMIT_COST_PER_DAY", 100.0),
		},
		Cache: CacheConfig{
			MaxEntries: envInt("FORGELINE_CACHE_MAX_ENTRIES", 256),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
