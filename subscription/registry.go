package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/paywall/id"
)

// Registry is the authoritative source of subscription validity.
type Registry struct {
	store Store
}

// NewRegistry returns a Registry over s.
func NewRegistry(s Store) *Registry {
	return &Registry{store: s}
}

// GetActive returns the pair's subscription if it grants access at now,
// or ErrNoActive.
func (r *Registry) GetActive(ctx context.Context, userID, creatorID string, now time.Time) (*Subscription, error) {
	s, err := r.store.LatestSubscription(ctx, userID, creatorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActive
	}
	if err != nil {
		return nil, err
	}
	if !s.IsActiveAt(now) {
		return nil, ErrNoActive
	}
	return s, nil
}

// Create starts a subscription of durationDays. It fails with
// ErrDuplicateActive if the pair already has a valid subscription.
func (r *Registry) Create(ctx context.Context, userID, creatorID string, durationDays int, now time.Time) (*Subscription, error) {
	if durationDays <= 0 {
		return nil, fmt.Errorf("subscription: duration must be positive, got %d days", durationDays)
	}
	s := New(userID, creatorID, durationDays, now)
	if err := r.store.CreateSubscription(ctx, s, now); err != nil {
		return nil, err
	}
	return s, nil
}

// Cancel flags the pair's valid subscription as cancelled. ExpiresAt is
// unchanged so access continues through the paid period.
func (r *Registry) Cancel(ctx context.Context, userID, creatorID string, now time.Time) (*Subscription, error) {
	return r.store.CancelSubscription(ctx, userID, creatorID, now)
}

// Renew extends the pair's latest subscription by extensionDays counted
// from max(now, expiresAt).
func (r *Registry) Renew(ctx context.Context, userID, creatorID string, extensionDays int, now time.Time) (*Subscription, error) {
	if extensionDays <= 0 {
		return nil, fmt.Errorf("subscription: extension must be positive, got %d days", extensionDays)
	}
	return r.store.ExtendSubscription(ctx, userID, creatorID, time.Duration(extensionDays)*Day, now)
}

// Get returns a subscription by ID.
func (r *Registry) Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	return r.store.GetSubscription(ctx, subID)
}

// ListForUser returns the user's subscriptions, newest first.
func (r *Registry) ListForUser(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error) {
	opts.UserID = userID
	return r.store.ListSubscriptions(ctx, opts)
}

// ListSubscribers returns the creator's subscriptions valid at now.
func (r *Registry) ListSubscribers(ctx context.Context, creatorID string, now time.Time, opts ListOpts) ([]*Subscription, error) {
	opts.CreatorID = creatorID
	opts.ActiveAt = now
	return r.store.ListSubscriptions(ctx, opts)
}
