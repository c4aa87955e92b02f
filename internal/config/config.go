package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServerAddr string

	DBDriver    string // "sqlite" or "postgres"
	DatabaseURL string
	SeedData    bool
	BcryptCost  int

	BidWorkers           int
	BidCommitBudget      time.Duration
	AuctionSweepInterval time.Duration
	SessionSweepInterval time.Duration
	SessionTTL           time.Duration
	DefaultAuctionHours  int

	NatsURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RabbitMQURL   string

	LogLevel  string
	LogFormat string
}

// Load reads a .env file when one exists and then builds the configuration
// from environment variables, falling back to defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		ServerAddr:           GetEnv("SERVER_ADDR", ":8080"),
		DBDriver:             GetEnv("DB_DRIVER", "sqlite"),
		DatabaseURL:          GetEnv("DATABASE_URL", "bidding.db"),
		SeedData:             GetEnvBool("SEED_DATA", true),
		BcryptCost:           GetEnvInt("BCRYPT_COST", 10),
		BidWorkers:           GetEnvInt("BID_WORKERS", 4),
		BidCommitBudget:      GetEnvDuration("BID_COMMIT_BUDGET", 5*time.Second),
		AuctionSweepInterval: GetEnvDuration("AUCTION_SWEEP_INTERVAL", time.Second),
		SessionSweepInterval: GetEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		SessionTTL:           GetEnvDuration("SESSION_TTL", time.Hour),
		DefaultAuctionHours:  GetEnvInt("DEFAULT_AUCTION_HOURS", 24),
		NatsURL:              GetEnv("NATS_URL", ""),
		RedisAddr:            GetEnv("REDIS_ADDR", ""),
		RedisPassword:        GetEnv("REDIS_PASSWORD", ""),
		RedisDB:              GetEnvInt("REDIS_DB", 0),
		RabbitMQURL:          GetEnv("RABBITMQ_URL", ""),
		LogLevel:             GetEnv("LOG_LEVEL", "info"),
		LogFormat:            GetEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.BidWorkers < 1 {
		c.BidWorkers = 1
	}
	if c.BidCommitBudget <= 0 {
		return fmt.Errorf("BID_COMMIT_BUDGET must be positive")
	}
	if c.AuctionSweepInterval <= 0 || c.SessionSweepInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetEnv returns the value of key or def when unset or empty.
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func GetEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

func GetEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
