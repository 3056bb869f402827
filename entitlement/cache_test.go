package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/types"
)

func TestMemoryCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	c := entitlement.NewMemoryCache(time.Minute)
	d := entitlement.Decision{Reason: entitlement.ReasonLockedPPV}

	c.Set(ctx, "fan", "post-1", d, time.Now(), 0)
	got, ok := c.Get(ctx, "fan", "post-1")
	require.True(t, ok)
	assert.Equal(t, d, got)

	require.NoError(t, c.Invalidate(ctx, "fan"))
	_, ok = c.Get(ctx, "fan", "post-1")
	assert.False(t, ok)
}

func TestMemoryCacheRejectsReadsOlderThanInvalidation(t *testing.T) {
	ctx := context.Background()
	c := entitlement.NewMemoryCache(time.Minute)

	observed := time.Now().Add(-time.Second)
	require.NoError(t, c.Invalidate(ctx, "fan"))
	c.Set(ctx, "fan", "post-1", entitlement.Decision{Reason: entitlement.ReasonLockedPPV}, observed, 0)

	_, ok := c.Get(ctx, "fan", "post-1")
	assert.False(t, ok, "a read that started before the invalidation must not be served")
}

func TestResolverCacheServesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	cache := entitlement.NewMemoryCache(time.Minute)
	f := newFixture(entitlement.WithCache(cache, time.Minute))
	post := paidPost(999)

	d, err := f.resolver.Resolve(ctx, "fan", post, now)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonLockedPPV, d.Reason)

	_, err = f.purchases.Record(ctx, "fan", post.ID, purchase.ContentPost, types.USD(999), now)
	require.NoError(t, err)

	d, err = f.resolver.Resolve(ctx, "fan", post, now)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonLockedPPV, d.Reason, "stale until invalidated")

	f.resolver.Invalidate(ctx, "fan")
	d, err = f.resolver.Resolve(ctx, "fan", post, now)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonPurchased, d.Reason)
}

func TestResolverCacheHonoursSubscriptionExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(entitlement.WithCache(entitlement.NewMemoryCache(time.Hour), time.Hour))
	c := content.Post("post-1", "creator", content.VisibilitySubscribers, nil)

	sub, err := f.subs.Create(ctx, "fan", "creator", 1, now)
	require.NoError(t, err)

	d, err := f.resolver.Resolve(ctx, "fan", c, now)
	require.NoError(t, err)
	require.True(t, d.Granted)

	d, err = f.resolver.Resolve(ctx, "fan", c, sub.ExpiresAt)
	require.NoError(t, err)
	assert.False(t, d.Granted, "cached grant must not outlive the subscription")
}
