package subscription

import (
	"context"
	"time"

	"github.com/xraph/paywall/id"
)

// Store persists subscriptions. Implementations enforce that at most one
// live record with ExpiresAt > now exists per (user, creator).
type Store interface {
	// CreateSubscription demotes the pair's stale live records and inserts s.
	// It returns ErrDuplicateActive when a live record is still valid at now.
	CreateSubscription(ctx context.Context, s *Subscription, now time.Time) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	// LatestSubscription returns the pair's record with the latest expiry.
	LatestSubscription(ctx context.Context, userID, creatorID string) (*Subscription, error)
	// CancelSubscription marks the pair's valid record cancelled.
	CancelSubscription(ctx context.Context, userID, creatorID string, now time.Time) (*Subscription, error)
	// ExtendSubscription stacks extension onto the pair's latest record.
	ExtendSubscription(ctx context.Context, userID, creatorID string, extension time.Duration, now time.Time) (*Subscription, error)
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
}

// ListOpts filters ListSubscriptions. Zero values do not filter.
type ListOpts struct {
	UserID    string
	CreatorID string
	// ActiveAt keeps only subscriptions that grant access at this instant.
	ActiveAt time.Time
	Limit    int
	Offset   int
}

// Matches reports whether s passes the filter.
func (o ListOpts) Matches(s *Subscription) bool {
	if o.UserID != "" && s.UserID != o.UserID {
		return false
	}
	if o.CreatorID != "" && s.CreatorID != o.CreatorID {
		return false
	}
	if !o.ActiveAt.IsZero() && !s.IsActiveAt(o.ActiveAt) {
		return false
	}
	return true
}
