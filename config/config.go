// Package config loads the paywalld service configuration from the
// environment. A .env file in the working directory is read first when
// present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds the service settings.
type Config struct {
	// Server
	Port        string
	LogLevel    string
	LogFormat   string
	CORSOrigins []string

	// Auth
	JWTSecret string

	// Storage
	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	CatalogDSN    string

	// Decision cache. An empty RedisURL keeps decisions in process.
	RedisURL string
	CacheTTL time.Duration

	// Payments. An empty StripeSecretKey runs against the simulator.
	StripeSecretKey string
	Currency        string
	CommitMaxTries  int

	// Reconciler
	ReconcileInterval    time.Duration
	ReconcileAfter       time.Duration
	ReconcileConcurrency int

	// Per-user limits on routes that move money.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PAYWALL_PORT", "8080"),
		LogLevel:    getEnv("PAYWALL_LOG_LEVEL", "info"),
		LogFormat:   getEnv("PAYWALL_LOG_FORMAT", "json"),
		CORSOrigins: getEnvList("PAYWALL_CORS_ORIGINS", []string{"*"}),

		JWTSecret: getEnv("PAYWALL_JWT_SECRET", ""),

		StoreDriver:   strings.ToLower(getEnv("PAYWALL_STORE", DriverMemory)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MongoURI:      getEnv("PAYWALL_MONGO_URI", ""),
		MongoDatabase: getEnv("PAYWALL_MONGO_DATABASE", "paywall"),
		CatalogDSN:    getEnv("PAYWALL_CATALOG_DSN", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: getEnvDuration("PAYWALL_CACHE_TTL", 30*time.Second),

		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		Currency:        strings.ToLower(getEnv("PAYWALL_CURRENCY", "")),
		CommitMaxTries:  getEnvInt("PAYWALL_COMMIT_MAX_TRIES", 4),

		ReconcileInterval:    getEnvDuration("PAYWALL_RECONCILE_INTERVAL", time.Minute),
		ReconcileAfter:       getEnvDuration("PAYWALL_RECONCILE_AFTER", 2*time.Minute),
		ReconcileConcurrency: getEnvInt("PAYWALL_RECONCILE_CONCURRENCY", 8),

		RateLimitRPS:   getEnvFloat("PAYWALL_RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("PAYWALL_RATE_LIMIT_BURST", 10),
	}
	if cfg.CatalogDSN == "" {
		cfg.CatalogDSN = cfg.DatabaseURL
	}
	return cfg, cfg.Validate()
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("PAYWALL_JWT_SECRET is required"))
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("PAYWALL_MONGO_URI is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("PAYWALL_STORE must be one of memory, postgres, mongo; got %q", c.StoreDriver))
	}
	if c.Currency != "" && len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("PAYWALL_CURRENCY must be a 3-letter code, got %q", c.Currency))
	}
	if c.CommitMaxTries < 1 {
		errs = append(errs, errors.New("PAYWALL_COMMIT_MAX_TRIES must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
