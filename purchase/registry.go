package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/paywall/types"
)

// Registry is the authoritative source of one-off unlocks.
type Registry struct {
	store Store
}

// NewRegistry returns a Registry over s.
func NewRegistry(s Store) *Registry {
	return &Registry{store: s}
}

// Has reports whether the user has unlocked the content item.
func (r *Registry) Has(ctx context.Context, userID string, contentType ContentType, contentID string) (bool, error) {
	_, err := r.store.GetPurchase(ctx, userID, contentType, contentID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Record stores an unlock. A second record for the same item fails with
// ErrAlreadyPurchased.
func (r *Registry) Record(ctx context.Context, userID, contentID string, contentType ContentType, amount types.Money, now time.Time) (*Purchase, error) {
	p := New(userID, contentID, contentType, amount, now)
	if err := r.store.CreatePurchase(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the user's purchase of the item or ErrNotFound.
func (r *Registry) Get(ctx context.Context, userID string, contentType ContentType, contentID string) (*Purchase, error) {
	return r.store.GetPurchase(ctx, userID, contentType, contentID)
}

// ListForUser returns the user's purchases, newest first.
func (r *Registry) ListForUser(ctx context.Context, userID string, opts ListOpts) ([]*Purchase, error) {
	return r.store.ListPurchases(ctx, userID, opts)
}
