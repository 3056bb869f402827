package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("PAYWALL_JWT_SECRET", "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 4, cfg.CommitMaxTries)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.InDelta(t, 5.0, cfg.RateLimitRPS, 0.001)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PAYWALL_JWT_SECRET", "s3cret")
	t.Setenv("PAYWALL_STORE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/paywall")
	t.Setenv("PAYWALL_CACHE_TTL", "5s")
	t.Setenv("PAYWALL_CURRENCY", "EUR")
	t.Setenv("PAYWALL_CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("PAYWALL_RECONCILE_CONCURRENCY", "not-a-number")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "postgres://localhost/paywall", cfg.CatalogDSN, "catalog defaults to the main database")
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)
	assert.Equal(t, "eur", cfg.Currency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 8, cfg.ReconcileConcurrency, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{"PAYWALL_JWT_SECRET": ""}, "PAYWALL_JWT_SECRET is required"},
		{"postgres without url", map[string]string{"PAYWALL_JWT_SECRET": "x", "PAYWALL_STORE": "postgres"}, "DATABASE_URL is required"},
		{"mongo without uri", map[string]string{"PAYWALL_JWT_SECRET": "x", "PAYWALL_STORE": "mongo"}, "PAYWALL_MONGO_URI is required"},
		{"unknown driver", map[string]string{"PAYWALL_JWT_SECRET": "x", "PAYWALL_STORE": "cassandra"}, "PAYWALL_STORE must be one of"},
		{"bad currency", map[string]string{"PAYWALL_JWT_SECRET": "x", "PAYWALL_CURRENCY": "euro"}, "3-letter code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAYWALL_JWT_SECRET=from-file\nPAYWALL_PORT=9090\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("PAYWALL_PORT", "7070")
	// godotenv does not override variables that are already set.
	t.Setenv("PAYWALL_JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("PAYWALL_JWT_SECRET"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "7070", cfg.Port)
}
