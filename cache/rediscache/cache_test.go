package rediscache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/cache/rediscache"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/types"
)

func newCache(t *testing.T, opts ...rediscache.Option) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c := rediscache.New(client, time.Minute, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func lockedPPV() entitlement.Decision {
	price := types.USD(999)
	return entitlement.Decision{
		Reason:     entitlement.ReasonLockedPPV,
		Price:      &price,
		Visibility: content.VisibilityPaid,
	}
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	c, srv := newCache(t)

	_, ok := c.Get(ctx, "fan", "post-1")
	assert.False(t, ok)

	c.Set(ctx, "fan", "post-1", lockedPPV(), time.Now(), 0)
	got, ok := c.Get(ctx, "fan", "post-1")
	require.True(t, ok)
	assert.Equal(t, lockedPPV(), got)

	assert.True(t, srv.Exists("paywall:decision:fan:post-1"))
	assert.Equal(t, time.Minute, srv.TTL("paywall:decision:fan:post-1"))
}

func TestTTLIsCapped(t *testing.T) {
	ctx := context.Background()
	c, srv := newCache(t, rediscache.WithPrefix("test:"))

	c.Set(ctx, "fan", "post-1", lockedPPV(), time.Now(), time.Hour)
	assert.Equal(t, time.Minute, srv.TTL("test:decision:fan:post-1"))

	srv.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, "fan", "post-1")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	c.Set(ctx, "fan", "post-1", lockedPPV(), time.Now().Add(-time.Second), 0)
	c.Set(ctx, "other", "post-1", lockedPPV(), time.Now().Add(-time.Second), 0)
	require.NoError(t, c.Invalidate(ctx, "fan"))

	_, ok := c.Get(ctx, "fan", "post-1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "other", "post-1")
	assert.True(t, ok, "invalidation is per viewer")
}

func TestRejectsReadsOlderThanInvalidation(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, _ := newCache(t, rediscache.WithClock(func() time.Time { return clock }))

	require.NoError(t, c.Invalidate(ctx, "fan"))

	c.Set(ctx, "fan", "post-1", lockedPPV(), clock.Add(-time.Millisecond), 0)
	_, ok := c.Get(ctx, "fan", "post-1")
	assert.False(t, ok, "a read that started before the invalidation must not be served")

	c.Set(ctx, "fan", "post-1", lockedPPV(), clock.Add(time.Millisecond), 0)
	_, ok = c.Get(ctx, "fan", "post-1")
	assert.True(t, ok)
}

func TestServerDownIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, srv := newCache(t)

	c.Set(ctx, "fan", "post-1", lockedPPV(), time.Now(), 0)
	srv.Close()

	_, ok := c.Get(ctx, "fan", "post-1")
	assert.False(t, ok)
	assert.Error(t, c.Invalidate(ctx, "fan"))
}

// TestRealServer runs against PAYWALL_TEST_REDIS_URL when set.
func TestRealServer(t *testing.T) {
	url := os.Getenv("PAYWALL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PAYWALL_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	c, err := rediscache.Dial(ctx, url, time.Minute, rediscache.WithPrefix("paywall-test:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Set(ctx, "fan", "post-1", lockedPPV(), time.Now().Add(-time.Second), 0)
	_, ok := c.Get(ctx, "fan", "post-1")
	require.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "fan"))
	_, ok = c.Get(ctx, "fan", "post-1")
	assert.False(t, ok)
}
