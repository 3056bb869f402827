package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// Subscriptions is the read side of the subscription registry.
type Subscriptions interface {
	GetActive(ctx context.Context, userID, creatorID string, now time.Time) (*subscription.Subscription, error)
}

// Purchases is the read side of the purchase registry.
type Purchases interface {
	Has(ctx context.Context, userID string, contentType purchase.ContentType, contentID string) (bool, error)
}

// Resolver evaluates access decisions.
type Resolver struct {
	subs      Subscriptions
	purchases Purchases
	cache     Cache
	cacheTTL  time.Duration
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache serves SUBSCRIBERS and PAID decisions from c for up to ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver returns a Resolver over the two registries.
func NewResolver(subs Subscriptions, purchases Purchases, opts ...Option) *Resolver {
	r := &Resolver{
		subs:      subs,
		purchases: purchases,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve decides whether viewerID may see c at now. An empty viewerID is
// an anonymous viewer.
func (r *Resolver) Resolve(ctx context.Context, viewerID string, c *content.Content, now time.Time) (Decision, error) {
	if err := c.Validate(); err != nil {
		return Decision{}, err
	}

	if viewerID != "" && viewerID == c.OwnerCreatorID {
		return Decision{Granted: true, Reason: ReasonOwner, Visibility: c.Visibility}, nil
	}
	if c.Visibility == content.VisibilityPublic {
		return Decision{Granted: true, Reason: ReasonPublic, Visibility: c.Visibility}, nil
	}

	if viewerID != "" && r.cache != nil {
		if d, ok := r.cache.Get(ctx, viewerID, c.Ref()); ok && d.ValidAt(now) {
			return d, nil
		}
	}

	// Taken before the reads so a concurrent invalidation wins over this result.
	observedAt := r.clock()
	d, err := r.evaluate(ctx, viewerID, c, now)
	if err != nil {
		return Decision{}, err
	}

	if viewerID != "" && r.cache != nil {
		r.cache.Set(ctx, viewerID, c.Ref(), d, observedAt, r.cacheTTL)
	}
	return d, nil
}

func (r *Resolver) evaluate(ctx context.Context, viewerID string, c *content.Content, now time.Time) (Decision, error) {
	d := Decision{Visibility: c.Visibility}

	if c.Visibility == content.VisibilityPaid && viewerID != "" {
		purchased, err := r.purchases.Has(ctx, viewerID, purchase.TypeOf(c.KindOrDefault()), c.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("entitlement: purchase lookup: %w", err)
		}
		if purchased {
			d.Granted = true
			d.Reason = ReasonPurchased
			return d, nil
		}
	}

	sub, err := r.activeSubscription(ctx, viewerID, c.OwnerCreatorID, now)
	if err != nil {
		return Decision{}, err
	}
	if sub != nil {
		d.Granted = true
		d.Reason = ReasonSubscribed
		d.ValidUntil = sub.ExpiresAt
		return d, nil
	}

	if c.Visibility == content.VisibilityPaid {
		d.Reason = ReasonLockedPPV
		price := *c.Price
		d.Price = &price
		return d, nil
	}
	d.Reason = ReasonNotSubscribed
	return d, nil
}

func (r *Resolver) activeSubscription(ctx context.Context, viewerID, creatorID string, now time.Time) (*subscription.Subscription, error) {
	if viewerID == "" {
		return nil, nil
	}
	sub, err := r.subs.GetActive(ctx, viewerID, creatorID, now)
	switch {
	case errors.Is(err, subscription.ErrNoActive):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("entitlement: subscription lookup: %w", err)
	}
	return sub, nil
}

// Invalidate drops cached decisions for viewerID. It is a no-op without a cache.
func (r *Resolver) Invalidate(ctx context.Context, viewerID string) {
	if r.cache == nil || viewerID == "" {
		return
	}
	if err := r.cache.Invalidate(ctx, viewerID); err != nil {
		r.logger.Warn("entitlement: cache invalidation failed",
			"viewer_id", viewerID,
			"error", err,
		)
	}
}
