// Package plugin provides an extensible plugin system for paywall.
// Plugins hook into monetization and access events to add audit trails,
// metrics, notifications or anything else that must not sit on the
// payment path.
package plugin

import (
	"context"

	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscribed is called after a paid subscription is committed.
type OnSubscribed interface {
	Plugin
	OnSubscribed(ctx context.Context, sub *subscription.Subscription, entry *ledger.Entry) error
}

// OnSubscriptionRenewed is called after a renewal is committed.
type OnSubscriptionRenewed interface {
	Plugin
	OnSubscriptionRenewed(ctx context.Context, sub *subscription.Subscription, entry *ledger.Entry) error
}

// OnSubscriptionCanceled is called after a subscription is flagged cancelled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error
}

// ──────────────────────────────────────────────────
// Purchase and tip hooks
// ──────────────────────────────────────────────────

// OnPurchased is called after a PPV or paid message unlock is committed.
type OnPurchased interface {
	Plugin
	OnPurchased(ctx context.Context, p *purchase.Purchase, entry *ledger.Entry) error
}

// OnTipped is called after a tip is completed.
type OnTipped interface {
	Plugin
	OnTipped(ctx context.Context, entry *ledger.Entry) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentFailed is called when a charge is declined or compensated.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, entry *ledger.Entry, err error) error
}

// OnCommitFailed is called when money was collected but the entitlement
// could not be written. Operators should be alerted.
type OnCommitFailed interface {
	Plugin
	OnCommitFailed(ctx context.Context, entry *ledger.Entry, chargeID string, err error) error
}

// OnRefunded is called after a refund entry is appended.
type OnRefunded interface {
	Plugin
	OnRefunded(ctx context.Context, refund, original *ledger.Entry) error
}

// OnReconciled is called when the reconciler settles a pending entry.
type OnReconciled interface {
	Plugin
	OnReconciled(ctx context.Context, entry *ledger.Entry) error
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessResolved is called after every access decision.
type OnAccessResolved interface {
	Plugin
	OnAccessResolved(ctx context.Context, viewerID, contentID string, d entitlement.Decision) error
}
