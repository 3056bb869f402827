package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{CommitMaxTries: 2, ReconcileInterval: -1})

	assert.Equal(t, "/paywall", cfg.BasePath)
	assert.Equal(t, 30*time.Second, cfg.EntitlementCacheTTL)
	assert.Equal(t, 2, cfg.CommitMaxTries)
	assert.Equal(t, time.Duration(-1), cfg.ReconcileInterval, "a negative interval is kept so it can disable the worker")
	assert.Equal(t, 2*time.Minute, cfg.ReconcileAfter)
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{
		BasePath:            "/billing",
		EntitlementCacheTTL: 10 * time.Second,
	}
	programmatic := Config{
		DisableMigrate:      true,
		BasePath:            "/ignored",
		JWTSecret:           "s3cret",
		EntitlementCacheTTL: time.Minute,
		Currency:            "eur",
	}

	cfg := mergeConfigurations(yaml, programmatic)

	assert.True(t, cfg.DisableMigrate)
	assert.False(t, cfg.DisableRoutes)
	assert.Equal(t, "/billing", cfg.BasePath, "file config wins")
	assert.Equal(t, 10*time.Second, cfg.EntitlementCacheTTL, "file config wins")
	assert.Equal(t, "s3cret", cfg.JWTSecret, "programmatic fills gaps")
	assert.Equal(t, "eur", cfg.Currency)
	assert.Equal(t, 4, cfg.CommitMaxTries, "defaults fill the rest")
}

func TestOptionsSetConfig(t *testing.T) {
	e := &Extension{}
	for _, opt := range []Option{
		WithBasePath("/pw"),
		WithJWTSecret("k"),
		WithDisableRoutes(),
		WithEntitlementCacheTTL(5 * time.Second),
		WithReconcile(-1, time.Minute),
	} {
		opt(e)
	}

	assert.Equal(t, "/pw", e.config.BasePath)
	assert.Equal(t, "k", e.config.JWTSecret)
	assert.True(t, e.config.DisableRoutes)
	assert.Equal(t, 5*time.Second, e.config.EntitlementCacheTTL)
	assert.Equal(t, time.Duration(-1), e.config.ReconcileInterval)
}

func TestHandlerNilUntilRegistered(t *testing.T) {
	e := &Extension{config: Config{JWTSecret: "k"}}
	assert.Nil(t, e.Handler())
}
