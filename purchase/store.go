package purchase

import "context"

// Store persists purchases. CreatePurchase returns ErrAlreadyPurchased
// when the (user, content type, content) triple already exists; the check
// and the insert are a single atomic step.
type Store interface {
	CreatePurchase(ctx context.Context, p *Purchase) error
	GetPurchase(ctx context.Context, userID string, contentType ContentType, contentID string) (*Purchase, error)
	ListPurchases(ctx context.Context, userID string, opts ListOpts) ([]*Purchase, error)
}

// ListOpts pages ListPurchases.
type ListOpts struct {
	ContentType ContentType
	Limit       int
	Offset      int
}
