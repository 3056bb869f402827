// Package rediscache is an entitlement.Cache shared by every node through
// Redis. Decisions and per-viewer invalidation markers live under a common
// key prefix and expire on their own.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/paywall/entitlement"
)

// compile-time interface check
var _ entitlement.Cache = (*Cache)(nil)

const defaultPrefix = "paywall:"

type cachedDecision struct {
	Decision   entitlement.Decision `json:"decision"`
	ObservedAt time.Time            `json:"observed_at"`
}

// Cache implements entitlement.Cache on Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithLogger sets the logger for swallowed read and write errors.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the clock used to stamp invalidations.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) { c.clock = clock }
}

// New returns a Cache whose decisions live at most ttl.
func New(client redis.UniversalClient, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		client: client,
		prefix: defaultPrefix,
		ttl:    ttl,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial parses a redis:// URL and checks the connection.
func Dial(ctx context.Context, url string, ttl time.Duration, opts ...Option) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("paywall/rediscache: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("paywall/rediscache: ping: %w", err)
	}
	return New(client, ttl, opts...), nil
}

// Get implements entitlement.Cache. Any Redis failure reads as a miss.
func (c *Cache) Get(ctx context.Context, viewerID, contentRef string) (entitlement.Decision, bool) {
	vals, err := c.client.MGet(ctx, c.decisionKey(viewerID, contentRef), c.invalidationKey(viewerID)).Result()
	if err != nil {
		c.logger.Warn("entitlement cache read failed", "viewer_id", viewerID, "error", err)
		return entitlement.Decision{}, false
	}

	raw, ok := vals[0].(string)
	if !ok {
		return entitlement.Decision{}, false
	}
	var cd cachedDecision
	if err := json.Unmarshal([]byte(raw), &cd); err != nil {
		return entitlement.Decision{}, false
	}

	if marker, ok := vals[1].(string); ok {
		nanos, err := strconv.ParseInt(marker, 10, 64)
		if err != nil || !cd.ObservedAt.After(time.Unix(0, nanos)) {
			return entitlement.Decision{}, false
		}
	}
	return cd.Decision, true
}

// Set implements entitlement.Cache. A non-positive ttl uses the cache default.
func (c *Cache) Set(ctx context.Context, viewerID, contentRef string, d entitlement.Decision, observedAt time.Time, ttl time.Duration) {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	raw, err := json.Marshal(cachedDecision{Decision: d, ObservedAt: observedAt})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.decisionKey(viewerID, contentRef), raw, ttl).Err(); err != nil {
		c.logger.Warn("entitlement cache write failed", "viewer_id", viewerID, "error", err)
	}
}

// Invalidate implements entitlement.Cache. The marker outlives any
// decision stored from a read that started before it.
func (c *Cache) Invalidate(ctx context.Context, viewerID string) error {
	marker := strconv.FormatInt(c.clock().UnixNano(), 10)
	if err := c.client.Set(ctx, c.invalidationKey(viewerID), marker, 2*c.ttl).Err(); err != nil {
		return fmt.Errorf("paywall/rediscache: invalidate %s: %w", viewerID, err)
	}
	return nil
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func (c *Cache) decisionKey(viewerID, contentRef string) string {
	return c.prefix + "decision:" + viewerID + ":" + contentRef
}

func (c *Cache) invalidationKey(viewerID string) string {
	return c.prefix + "invalidated:" + viewerID
}
