package extension

import "time"

// Config holds the paywall extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.paywall" or "paywall" keys).
type Config struct {
	// DisableRoutes makes Handler return nil.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for paywall routes (default: "/paywall").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// JWTSecret verifies the bearer tokens of HTTP callers.
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// EntitlementCacheTTL bounds how long an access decision is served
	// from cache (default: 30s).
	EntitlementCacheTTL time.Duration `json:"entitlement_cache_ttl" mapstructure:"entitlement_cache_ttl" yaml:"entitlement_cache_ttl"`

	// Currency restricts charges to one currency. Empty accepts any.
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// CommitMaxTries is how many times a commit is attempted after a
	// successful charge (default: 4).
	CommitMaxTries int `json:"commit_max_tries" mapstructure:"commit_max_tries" yaml:"commit_max_tries"`

	// ReconcileInterval is how often pending entries are reconciled
	// (default: 1m). A negative interval disables the worker.
	ReconcileInterval time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// ReconcileAfter is the age at which a pending entry is considered
	// abandoned by its request (default: 2m).
	ReconcileAfter time.Duration `json:"reconcile_after" mapstructure:"reconcile_after" yaml:"reconcile_after"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:            "/paywall",
		EntitlementCacheTTL: 30 * time.Second,
		CommitMaxTries:      4,
		ReconcileInterval:   time.Minute,
		ReconcileAfter:      2 * time.Minute,
	}
}
