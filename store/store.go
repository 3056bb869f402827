// Package store defines the persistence contract shared by every backend.
package store

import (
	"context"
	"time"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// Store is the unified storage interface. Besides the per-record contracts
// it exposes the commit methods that settle a ledger entry and write the
// registry in one transaction, so a COMPLETED entry never exists without
// its entitlement.
type Store interface {
	subscription.Store
	purchase.Store
	ledger.Store

	// CommitSubscription completes the pending entry and inserts sub.
	// Nothing is written if either step fails.
	CommitSubscription(ctx context.Context, entryID id.EntryID, chargeID string, sub *subscription.Subscription, now time.Time) error
	// CommitRenewal completes the pending entry and extends the pair's
	// latest subscription.
	CommitRenewal(ctx context.Context, entryID id.EntryID, chargeID, userID, creatorID string, extension time.Duration, now time.Time) (*subscription.Subscription, error)
	// CommitPurchase completes the pending entry and inserts p.
	CommitPurchase(ctx context.Context, entryID id.EntryID, chargeID string, p *purchase.Purchase, now time.Time) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
