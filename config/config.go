// Package config loads server and CLI configuration from environment
// variables (optionally via a .env file) and the product policy from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

// Config represents the application configuration.
type Config struct {
	Addr       string
	Store      string
	DSN        string
	PolicyFile string

	RedisAddr     string
	RedisPassword string

	OTLPEndpoint string

	RateLimitRPS   float64
	RateLimitBurst int

	// SweepInterval is how often the server resumes incomplete series.
	// Zero disables the sweeper.
	SweepInterval time.Duration

	LogLevel slog.Level
}

// Load reads configuration from the environment. A .env file is loaded
// first when envPath names one, or from the working directory if present.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	var errs []error
	rps, err := parseFloatEnv("RECURRENCE_RATE_LIMIT_RPS", 20)
	errs = append(errs, err)
	burst, err := parseIntEnv("RECURRENCE_RATE_LIMIT_BURST", 40)
	errs = append(errs, err)
	sweep, err := parseDurationEnv("RECURRENCE_SWEEP_INTERVAL", 10*time.Minute)
	errs = append(errs, err)
	level, err := parseLevelEnv("RECURRENCE_LOG_LEVEL", slog.LevelInfo)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Config{
		Addr:           getEnvOrDefault("RECURRENCE_ADDR", ":8080"),
		Store:          getEnvOrDefault("RECURRENCE_STORE", StoreSQLite),
		DSN:            getEnvOrDefault("RECURRENCE_DSN", "obligations.db"),
		PolicyFile:     os.Getenv("RECURRENCE_POLICY_FILE"),
		RedisAddr:      os.Getenv("RECURRENCE_REDIS_ADDR"),
		RedisPassword:  os.Getenv("RECURRENCE_REDIS_PASSWORD"),
		OTLPEndpoint:   os.Getenv("RECURRENCE_OTLP_ENDPOINT"),
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		SweepInterval:  sweep,
		LogLevel:       level,
	}, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store {
	case StoreMemory:
	case StoreSQLite, StoreBolt, StorePostgres:
		if c.DSN == "" {
			problems = append(problems, fmt.Sprintf("RECURRENCE_DSN is required for store %q", c.Store))
		}
	default:
		problems = append(problems, fmt.Sprintf("RECURRENCE_STORE must be one of memory, sqlite, postgres, bolt (got %q)", c.Store))
	}
	if c.Addr == "" {
		problems = append(problems, "RECURRENCE_ADDR is required")
	}
	if c.RateLimitRPS < 0 {
		problems = append(problems, "RECURRENCE_RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		problems = append(problems, "RECURRENCE_RATE_LIMIT_BURST must be at least 1 when rate limiting is on")
	}
	if c.SweepInterval < 0 {
		problems = append(problems, "RECURRENCE_SWEEP_INTERVAL must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}
	return parsed, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %s", key, value)
	}
	return parsed, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %s", key, value)
	}
	return parsed, nil
}

func parseLevelEnv(key string, defaultValue slog.Level) (slog.Level, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("invalid log level for %s: %s", key, value)
	}
	return level, nil
}
