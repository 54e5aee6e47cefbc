package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// HTTP
	Port string

	// Persistence
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// Market maker
	MMSpread       decimal.Decimal
	MMSkewPerShare decimal.Decimal
	MMBaseSize     decimal.Decimal
	MMLevels       int
	MMLevelStep    decimal.Decimal
	MMDriftTol     decimal.Decimal
	MMMaxPerMarket decimal.Decimal
	MMMaxAggregate decimal.Decimal

	// Venue
	FeeRate      decimal.Decimal
	StartingCash decimal.Decimal

	// Lifecycle
	SweepInterval time.Duration

	// Auth: comma-free triples "token:userID:username", semicolon separated.
	// Admin tokens use "token:userID:username:admin".
	SeedUsers string

	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port: envStr("PORT", "8080"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		CacheTTL:    time.Duration(envInt("CACHE_TTL_SEC", 30)) * time.Second,

		MMSpread:       envDecimal("MM_SPREAD", "0.04"),
		MMSkewPerShare: envDecimal("MM_SKEW_PER_SHARE", "0.0005"),
		MMBaseSize:     envDecimal("MM_BASE_SIZE", "100"),
		MMLevels:       envInt("MM_LEVELS", 3),
		MMLevelStep:    envDecimal("MM_LEVEL_STEP", "0.01"),
		MMDriftTol:     envDecimal("MM_DRIFT_TOLERANCE", "0.01"),
		MMMaxPerMarket: envDecimal("MM_MAX_PER_MARKET", "1000"),
		MMMaxAggregate: envDecimal("MM_MAX_AGGREGATE", "10000"),

		FeeRate:      envDecimal("FEE_RATE", "0"),
		StartingCash: envDecimal("STARTING_CASH", "1000"),

		SweepInterval: time.Duration(envInt("LIFECYCLE_SWEEP_SEC", 5)) * time.Second,

		SeedUsers: envStr("SEED_USERS", ""),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

// SlogLevel maps LOG_LEVEL onto a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
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
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
