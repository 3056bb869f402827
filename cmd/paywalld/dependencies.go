package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xraph/paywall"
	audithook "github.com/xraph/paywall/audit_hook"
	"github.com/xraph/paywall/cache/rediscache"
	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/catalog/gormcatalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/charge/stripecharge"
	"github.com/xraph/paywall/config"
	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/observability"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/store/memory"
	"github.com/xraph/paywall/store/mongo"
	"github.com/xraph/paywall/store/postgres"
)

// Dependencies holds everything the service wires together.
type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Engine   *paywall.Engine
	Registry *prometheus.Registry

	closers []io.Closer
}

// InitDependencies connects the backends named by cfg and builds the engine.
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	cat, profiles, err := openCatalog(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	cache, err := openCache(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if c, ok := cache.(io.Closer); ok {
		deps.closers = append(deps.closers, c)
	}

	opts := []paywall.Option{
		paywall.WithLogger(logger),
		paywall.WithCache(cache, cfg.CacheTTL),
		paywall.WithCommitRetry(uint(cfg.CommitMaxTries), nil),
		paywall.WithReconcile(cfg.ReconcileInterval, cfg.ReconcileAfter),
		paywall.WithReconcileConcurrency(cfg.ReconcileConcurrency),
		paywall.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(deps.Registry))),
		paywall.WithPlugin(audithook.New(audithook.LogRecorder(logger.With("component", "audit")), audithook.WithLogger(logger))),
	}
	if cfg.Currency != "" {
		opts = append(opts, paywall.WithCurrency(cfg.Currency))
	}

	deps.Engine = paywall.New(s, newCharger(cfg, profiles, logger), cat, opts...)
	return deps, nil
}

// Close releases the cache connection. The engine closes the store on Stop.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, postgres.WithLogger(logger))
	case config.DriverMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, mongo.WithLogger(logger))
	default:
		logger.Warn("using the in-memory store; data is lost on restart")
		return memory.New(), nil
	}
}

// openCatalog returns the content catalog and, when it is backed by the
// application database, the payment profiles stored next to it.
func openCatalog(ctx context.Context, cfg *config.Config) (catalog.Catalog, *gormcatalog.Catalog, error) {
	dsn := cfg.CatalogDSN
	switch {
	case dsn == "":
		return catalog.NewStatic(), nil, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		c, err := gormcatalog.OpenSQLite(strings.TrimPrefix(dsn, "sqlite:"), gormcatalog.WithCurrency(currencyOr(cfg.Currency)))
		if err != nil {
			return nil, nil, err
		}
		// A local SQLite catalog is a development database; create its tables.
		if err := c.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("catalog migrate: %w", err)
		}
		return c, c, nil
	default:
		c, err := gormcatalog.OpenPostgres(dsn, gormcatalog.WithCurrency(currencyOr(cfg.Currency)))
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (entitlement.Cache, error) {
	if cfg.RedisURL == "" {
		return entitlement.NewMemoryCache(cfg.CacheTTL), nil
	}
	return rediscache.Dial(ctx, cfg.RedisURL, cfg.CacheTTL, rediscache.WithLogger(logger))
}

func newCharger(cfg *config.Config, profiles *gormcatalog.Catalog, logger *slog.Logger) charge.Charger {
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not set; charges are simulated")
		return charge.NewSimulator()
	}
	if profiles == nil {
		logger.Warn("no catalog database; stripe charges will fail without payment profiles")
	}

	customers := func(ctx context.Context, userID string) (stripecharge.Customer, error) {
		if profiles == nil {
			return stripecharge.Customer{}, nil
		}
		p, err := profiles.PaymentProfile(ctx, userID)
		if err != nil {
			return stripecharge.Customer{}, err
		}
		return stripecharge.Customer{CustomerID: p.CustomerID, PaymentMethodID: p.PaymentMethodID}, nil
	}
	accounts := func(ctx context.Context, creatorID string) (string, error) {
		if profiles == nil {
			return "", nil
		}
		p, err := profiles.PaymentProfile(ctx, creatorID)
		if err != nil {
			return "", err
		}
		return p.AccountID, nil
	}

	return stripecharge.New(stripecharge.NewAPI(cfg.StripeSecretKey), customers,
		stripecharge.WithAccountResolver(accounts),
	)
}

func currencyOr(currency string) string {
	if currency == "" {
		return "usd"
	}
	return currency
}
