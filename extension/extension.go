// Package extension provides the Forge extension adapter for paywall.
//
// It implements the forge.Extension interface to integrate paywall
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.paywall" or "paywall" keys.
package extension

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/paywall"
	"github.com/xraph/paywall/api"
	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "paywall"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Paid content entitlements and monetization ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts paywall as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	engine      *paywall.Engine
	store       store.Store
	charger     charge.Charger
	catalog     catalog.Catalog
	cache       entitlement.Cache
	paywallOpts []paywall.Option
}

// New creates a new paywall Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Engine.
// This is nil until Register is called.
func (e *Extension) Engine() *paywall.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the paywall engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	e.applyDefaults()
	e.engine = paywall.New(e.store, e.charger, e.catalog, e.buildPaywallOpts()...)

	return vessel.Provide(fapp.Container(), func() (*paywall.Engine, error) {
		return e.engine, nil
	})
}

// applyDefaults fills in development backends for anything not provided.
func (e *Extension) applyDefaults() {
	if e.store == nil {
		e.store = memory.New()
	}
	if e.charger == nil {
		e.Logger().Warn("paywall: no charger configured, charges are simulated")
		e.charger = charge.NewSimulator()
	}
	if e.catalog == nil {
		e.catalog = catalog.NewStatic()
	}
	if e.cache == nil {
		e.cache = entitlement.NewMemoryCache(e.config.EntitlementCacheTTL)
	}
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("paywall: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("paywall: store not initialized")
	}
	return e.store.Ping(ctx)
}

// Handler returns the HTTP routes mounted under BasePath, or nil when
// routes are disabled or no JWT secret is configured.
func (e *Extension) Handler(opts ...api.Option) http.Handler {
	if e.engine == nil || e.config.DisableRoutes {
		return nil
	}
	if e.config.JWTSecret == "" {
		e.Logger().Warn("paywall: routes disabled, jwt_secret is not set")
		return nil
	}

	h := api.New(e.engine, e.config.JWTSecret, opts...).Handler()
	prefix := strings.TrimSuffix(e.config.BasePath, "/")
	if prefix == "" {
		return h
	}
	return http.StripPrefix(prefix, h)
}

// buildPaywallOpts constructs paywall.Option values from the resolved config.
func (e *Extension) buildPaywallOpts() []paywall.Option {
	opts := make([]paywall.Option, 0, len(e.paywallOpts)+4)

	opts = append(opts, paywall.WithCache(e.cache, e.config.EntitlementCacheTTL))
	if e.config.CommitMaxTries > 0 {
		opts = append(opts, paywall.WithCommitRetry(uint(e.config.CommitMaxTries), nil))
	}
	if e.config.Currency != "" {
		opts = append(opts, paywall.WithCurrency(e.config.Currency))
	}
	interval := e.config.ReconcileInterval
	if interval < 0 {
		interval = 0
	}
	opts = append(opts, paywall.WithReconcile(interval, e.config.ReconcileAfter))
	if e.config.DisableMigrate {
		opts = append(opts, paywall.WithoutMigrations())
	}

	// Append any pass-through paywall options.
	opts = append(opts, e.paywallOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("paywall: configuration is required but not found in config files; " +
				"ensure 'extensions.paywall' or 'paywall' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("paywall: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("entitlement_cache_ttl", e.config.EntitlementCacheTTL),
		forge.F("currency", e.config.Currency),
		forge.F("commit_max_tries", e.config.CommitMaxTries),
		forge.F("reconcile_interval", e.config.ReconcileInterval),
		forge.F("reconcile_after", e.config.ReconcileAfter),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.paywall", "paywall"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("paywall: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("paywall: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.EntitlementCacheTTL == 0 {
		cfg.EntitlementCacheTTL = defaults.EntitlementCacheTTL
	}
	if cfg.CommitMaxTries == 0 {
		cfg.CommitMaxTries = defaults.CommitMaxTries
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	if cfg.ReconcileAfter == 0 {
		cfg.ReconcileAfter = defaults.ReconcileAfter
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.JWTSecret == "" {
		yamlConfig.JWTSecret = programmaticConfig.JWTSecret
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.EntitlementCacheTTL == 0 {
		yamlConfig.EntitlementCacheTTL = programmaticConfig.EntitlementCacheTTL
	}
	if yamlConfig.CommitMaxTries == 0 {
		yamlConfig.CommitMaxTries = programmaticConfig.CommitMaxTries
	}
	if yamlConfig.ReconcileInterval == 0 {
		yamlConfig.ReconcileInterval = programmaticConfig.ReconcileInterval
	}
	if yamlConfig.ReconcileAfter == 0 {
		yamlConfig.ReconcileAfter = programmaticConfig.ReconcileAfter
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
