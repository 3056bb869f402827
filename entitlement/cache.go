package entitlement

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache stores decisions per viewer and content.Ref. Implementations must drop
// a decision whose observedAt is not after the viewer's last invalidation.
type Cache interface {
	Get(ctx context.Context, viewerID, contentRef string) (Decision, bool)
	Set(ctx context.Context, viewerID, contentRef string, d Decision, observedAt time.Time, ttl time.Duration)
	Invalidate(ctx context.Context, viewerID string) error
}

type cachedDecision struct {
	Decision   Decision  `json:"decision"`
	ObservedAt time.Time `json:"observed_at"`
}

// MemoryCache is an in-process Cache backed by go-cache.
type MemoryCache struct {
	decisions     *gocache.Cache
	invalidations *gocache.Cache
	ttl           time.Duration
}

// NewMemoryCache returns a MemoryCache whose entries live at most ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		decisions:     gocache.New(ttl, 2*ttl),
		invalidations: gocache.New(2*ttl, 4*ttl),
		ttl:           ttl,
	}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, viewerID, contentRef string) (Decision, bool) {
	v, ok := m.decisions.Get(decisionKey(viewerID, contentRef))
	if !ok {
		return Decision{}, false
	}
	cd, ok := v.(cachedDecision)
	if !ok {
		return Decision{}, false
	}
	if inv, found := m.invalidations.Get(viewerID); found {
		if at, ok := inv.(time.Time); ok && !cd.ObservedAt.After(at) {
			return Decision{}, false
		}
	}
	return cd.Decision, true
}

// Set implements Cache. A non-positive ttl uses the cache default.
func (m *MemoryCache) Set(_ context.Context, viewerID, contentRef string, d Decision, observedAt time.Time, ttl time.Duration) {
	if ttl <= 0 || ttl > m.ttl {
		ttl = m.ttl
	}
	m.decisions.Set(decisionKey(viewerID, contentRef), cachedDecision{Decision: d, ObservedAt: observedAt}, ttl)
}

// Invalidate implements Cache. The marker outlives any decision stored
// from a read that started before it.
func (m *MemoryCache) Invalidate(_ context.Context, viewerID string) error {
	m.invalidations.Set(viewerID, time.Now(), 2*m.ttl)
	return nil
}

// Flush empties the cache.
func (m *MemoryCache) Flush() {
	m.decisions.Flush()
	m.invalidations.Flush()
}

func decisionKey(viewerID, contentRef string) string {
	return viewerID + "\x00" + contentRef
}
