package extension

import (
	"time"

	"github.com/xraph/paywall"
	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/plugin"
	"github.com/xraph/paywall/store"
)

// Option configures the paywall Forge extension.
type Option func(*Extension)

// WithStore sets the store for the paywall engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithCharger sets the payment processor.
func WithCharger(c charge.Charger) Option {
	return func(e *Extension) {
		e.charger = c
	}
}

// WithCatalog sets the content catalog.
func WithCatalog(c catalog.Catalog) Option {
	return func(e *Extension) {
		e.catalog = c
	}
}

// WithCache sets the decision cache. The TTL comes from the config.
func WithCache(c entitlement.Cache) Option {
	return func(e *Extension) {
		e.cache = c
	}
}

// WithPaywallOption passes a paywall.Option through to the underlying engine.
func WithPaywallOption(opt paywall.Option) Option {
	return func(e *Extension) {
		e.paywallOpts = append(e.paywallOpts, opt)
	}
}

// WithPlugin registers a paywall plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.paywallOpts = append(e.paywallOpts, paywall.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for paywall routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithJWTSecret sets the secret that verifies HTTP callers.
func WithJWTSecret(secret string) Option {
	return func(e *Extension) { e.config.JWTSecret = secret }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithEntitlementCacheTTL sets the access decision cache duration.
func WithEntitlementCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.EntitlementCacheTTL = d }
}

// WithReconcile sets the reconcile worker interval and the age at which
// pending entries are picked up.
func WithReconcile(interval, after time.Duration) Option {
	return func(e *Extension) {
		e.config.ReconcileInterval = interval
		e.config.ReconcileAfter = after
	}
}
