package paywall

import (
	"context"
	"time"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/entitlement"
)

// Resolve decides whether viewerID may see c at now. An empty viewerID is
// an anonymous viewer. Resolve never writes.
func (e *Engine) Resolve(ctx context.Context, viewerID string, c *content.Content, now time.Time) (entitlement.Decision, error) {
	d, err := e.resolver.Resolve(ctx, viewerID, c, now)
	if err != nil {
		return entitlement.Decision{}, err
	}
	e.plugins.EmitAccessResolved(ctx, viewerID, c.ID, d)
	return d, nil
}

// Access is Resolve in the caller-facing shape.
func (e *Engine) Access(ctx context.Context, viewerID string, c *content.Content, now time.Time) (entitlement.Access, error) {
	d, err := e.Resolve(ctx, viewerID, c, now)
	if err != nil {
		return entitlement.Access{}, err
	}
	return d.Access(), nil
}

// Resolver returns the engine's entitlement resolver.
func (e *Engine) Resolver() *entitlement.Resolver { return e.resolver }
