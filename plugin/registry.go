package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// DefaultHookTimeout bounds a single plugin call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onSubscribed           []OnSubscribed
	onSubscriptionRenewed  []OnSubscriptionRenewed
	onSubscriptionCanceled []OnSubscriptionCanceled
	onPurchased            []OnPurchased
	onTipped               []OnTipped
	onPaymentFailed        []OnPaymentFailed
	onCommitFailed         []OnCommitFailed
	onRefunded             []OnRefunded
	onReconciled           []OnReconciled
	onAccessResolved       []OnAccessResolved
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSubscribed); ok {
		r.onSubscribed = append(r.onSubscribed, v)
	}
	if v, ok := p.(OnSubscriptionRenewed); ok {
		r.onSubscriptionRenewed = append(r.onSubscriptionRenewed, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnPurchased); ok {
		r.onPurchased = append(r.onPurchased, v)
	}
	if v, ok := p.(OnTipped); ok {
		r.onTipped = append(r.onTipped, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnCommitFailed); ok {
		r.onCommitFailed = append(r.onCommitFailed, v)
	}
	if v, ok := p.(OnRefunded); ok {
		r.onRefunded = append(r.onRefunded, v)
	}
	if v, ok := p.(OnReconciled); ok {
		r.onReconciled = append(r.onReconciled, v)
	}
	if v, ok := p.(OnAccessResolved); ok {
		r.onAccessResolved = append(r.onAccessResolved, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedHooks(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnSubscribed", reflect.TypeFor[OnSubscribed]()},
	{"OnSubscriptionRenewed", reflect.TypeFor[OnSubscriptionRenewed]()},
	{"OnSubscriptionCanceled", reflect.TypeFor[OnSubscriptionCanceled]()},
	{"OnPurchased", reflect.TypeFor[OnPurchased]()},
	{"OnTipped", reflect.TypeFor[OnTipped]()},
	{"OnPaymentFailed", reflect.TypeFor[OnPaymentFailed]()},
	{"OnCommitFailed", reflect.TypeFor[OnCommitFailed]()},
	{"OnRefunded", reflect.TypeFor[OnRefunded]()},
	{"OnReconciled", reflect.TypeFor[OnReconciled]()},
	{"OnAccessResolved", reflect.TypeFor[OnAccessResolved]()},
}

// implementedHooks returns the names of the hooks p implements.
func implementedHooks(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit snapshots a hook list under the read lock and calls each plugin
// with a timeout. Failures are logged and never returned.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list *[]T, call func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitSubscribed emits a subscription committed event.
func (r *Registry) EmitSubscribed(ctx context.Context, sub *subscription.Subscription, entry *ledger.Entry) {
	emit(ctx, r, "OnSubscribed", &r.onSubscribed, func(p OnSubscribed) error {
		return p.OnSubscribed(ctx, sub, entry)
	})
}

// EmitSubscriptionRenewed emits a renewal committed event.
func (r *Registry) EmitSubscriptionRenewed(ctx context.Context, sub *subscription.Subscription, entry *ledger.Entry) {
	emit(ctx, r, "OnSubscriptionRenewed", &r.onSubscriptionRenewed, func(p OnSubscriptionRenewed) error {
		return p.OnSubscriptionRenewed(ctx, sub, entry)
	})
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCanceled", &r.onSubscriptionCanceled, func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, sub)
	})
}

// EmitPurchased emits an unlock committed event.
func (r *Registry) EmitPurchased(ctx context.Context, pur *purchase.Purchase, entry *ledger.Entry) {
	emit(ctx, r, "OnPurchased", &r.onPurchased, func(p OnPurchased) error {
		return p.OnPurchased(ctx, pur, entry)
	})
}

// EmitTipped emits a tip completed event.
func (r *Registry) EmitTipped(ctx context.Context, entry *ledger.Entry) {
	emit(ctx, r, "OnTipped", &r.onTipped, func(p OnTipped) error {
		return p.OnTipped(ctx, entry)
	})
}

// EmitPaymentFailed emits a payment failed event.
func (r *Registry) EmitPaymentFailed(ctx context.Context, entry *ledger.Entry, cause error) {
	emit(ctx, r, "OnPaymentFailed", &r.onPaymentFailed, func(p OnPaymentFailed) error {
		return p.OnPaymentFailed(ctx, entry, cause)
	})
}

// EmitCommitFailed emits a commit failed event.
func (r *Registry) EmitCommitFailed(ctx context.Context, entry *ledger.Entry, chargeID string, cause error) {
	emit(ctx, r, "OnCommitFailed", &r.onCommitFailed, func(p OnCommitFailed) error {
		return p.OnCommitFailed(ctx, entry, chargeID, cause)
	})
}

// EmitRefunded emits a refund appended event.
func (r *Registry) EmitRefunded(ctx context.Context, refund, original *ledger.Entry) {
	emit(ctx, r, "OnRefunded", &r.onRefunded, func(p OnRefunded) error {
		return p.OnRefunded(ctx, refund, original)
	})
}

// EmitReconciled emits a pending entry settled event.
func (r *Registry) EmitReconciled(ctx context.Context, entry *ledger.Entry) {
	emit(ctx, r, "OnReconciled", &r.onReconciled, func(p OnReconciled) error {
		return p.OnReconciled(ctx, entry)
	})
}

// EmitAccessResolved emits an access decision event.
func (r *Registry) EmitAccessResolved(ctx context.Context, viewerID, contentID string, d entitlement.Decision) {
	emit(ctx, r, "OnAccessResolved", &r.onAccessResolved, func(p OnAccessResolved) error {
		return p.OnAccessResolved(ctx, viewerID, contentID, d)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the payment pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
