package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/api"
	"github.com/xraph/paywall/catalog/gormcatalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/config"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestInitDependenciesInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		JWTSecret:      "s3cret",
		StoreDriver:    config.DriverMemory,
		CacheTTL:       time.Second,
		CommitMaxTries: 2,
	}

	deps, err := InitDependencies(ctx, cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NoError(t, deps.Engine.Start(ctx))
	t.Cleanup(func() { _ = deps.Engine.Stop() })

	srv := api.New(deps.Engine, cfg.JWTSecret, api.WithLogger(discard()))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	families, err := deps.Registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "paywall_access_checks_total")
}

func TestOpenCatalogSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	cat, profiles, err := openCatalog(ctx, &config.Config{CatalogDSN: "sqlite:" + path})
	require.NoError(t, err)
	require.NotNil(t, profiles)
	assert.Same(t, profiles, cat.(*gormcatalog.Catalog))

	_, err = profiles.PaymentProfile(ctx, "nobody")
	assert.ErrorIs(t, err, gormcatalog.ErrUserNotFound)
}

func TestNewChargerFallsBackToSimulator(t *testing.T) {
	c := newCharger(&config.Config{}, nil, discard())
	_, ok := c.(*charge.Simulator)
	assert.True(t, ok)
}
