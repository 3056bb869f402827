package paywall

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"

	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/plugin"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/subscription"
)

var tracer = otel.Tracer("github.com/xraph/paywall")

// Engine is the monetization gateway. It is the only writer of
// subscriptions, purchases and ledger entries.
type Engine struct {
	store     store.Store
	charger   charge.Charger
	catalog   catalog.Catalog
	subs      *subscription.Registry
	purchases *purchase.Registry
	resolver  *entitlement.Resolver
	plugins   *plugin.Registry
	logger    *slog.Logger

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	cache                entitlement.Cache
	cacheTTL             time.Duration
	currency             string
	commitTries          uint
	newBackOff           func() backoff.BackOff
	reconcileInterval    time.Duration
	reconcileAfter       time.Duration
	reconcileBatch       int
	reconcileConcurrency int
	skipMigrate          bool
}

// New creates an Engine over a store, a payment processor and the
// application's content catalog.
func New(s store.Store, c charge.Charger, cat catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:                s,
		charger:              c,
		catalog:              cat,
		subs:                 subscription.NewRegistry(s),
		purchases:            purchase.NewRegistry(s),
		plugins:              plugin.NewRegistry(),
		logger:               slog.Default(),
		stopChan:             make(chan struct{}),
		cacheTTL:             30 * time.Second,
		commitTries:          4,
		newBackOff:           func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		reconcileAfter:       2 * time.Minute,
		reconcileBatch:       100,
		reconcileConcurrency: 8,
	}

	for _, opt := range opts {
		opt(e)
	}

	resolverOpts := []entitlement.Option{entitlement.WithLogger(e.logger)}
	if e.cache != nil {
		resolverOpts = append(resolverOpts, entitlement.WithCache(e.cache, e.cacheTTL))
	}
	e.resolver = entitlement.NewResolver(e.subs, e.purchases, resolverOpts...)

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCache serves access decisions from c for up to ttl.
func WithCache(c entitlement.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithCurrency restricts charges to one currency. By default any currency
// is accepted.
func WithCurrency(currency string) Option {
	return func(e *Engine) {
		e.currency = currency
	}
}

// WithCommitRetry sets how many times a commit is attempted after a
// successful charge, and the backoff between attempts.
func WithCommitRetry(maxTries uint, newBackOff func() backoff.BackOff) Option {
	return func(e *Engine) {
		if maxTries > 0 {
			e.commitTries = maxTries
		}
		if newBackOff != nil {
			e.newBackOff = newBackOff
		}
	}
}

// WithReconcile runs the pending-entry reconciler every interval once the
// engine starts. Entries younger than after are left to their request.
// A zero interval disables the worker.
func WithReconcile(interval, after time.Duration) Option {
	return func(e *Engine) {
		e.reconcileInterval = interval
		if after > 0 {
			e.reconcileAfter = after
		}
	}
}

// WithoutMigrations makes Start leave the store schema alone.
func WithoutMigrations() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// WithReconcileConcurrency bounds how many entries one reconcile pass
// settles in parallel.
func WithReconcileConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.reconcileConcurrency = n
		}
	}
}

// Start migrates the store, initializes plugins and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.reconcileInterval > 0 {
		e.wg.Add(1)
		go e.reconcileWorker(ctx)
	}

	e.logger.Info("paywall started",
		"reconcile_interval", e.reconcileInterval,
		"reconcile_after", e.reconcileAfter,
		"cache_ttl", e.cacheTTL,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down background workers, plugins and the store.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Catalog returns the content catalog.
func (e *Engine) Catalog() catalog.Catalog { return e.catalog }

// Subscriptions returns the subscription registry.
func (e *Engine) Subscriptions() *subscription.Registry { return e.subs }

// Purchases returns the purchase registry.
func (e *Engine) Purchases() *purchase.Registry { return e.purchases }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }
