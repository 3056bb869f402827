package ledger

import (
	"context"
	"time"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/types"
)

// Store persists entries.
type Store interface {
	// AppendEntry inserts a new entry. It returns ErrInFlight when another
	// PENDING entry holds the same LockKey and ErrDuplicateRequest when the
	// payer already used the IdempotencyKey.
	AppendEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, entryID id.EntryID) (*Entry, error)
	GetEntryByIdempotencyKey(ctx context.Context, payerID, key string) (*Entry, error)
	// CompleteEntry settles an entry that needs no registry write.
	CompleteEntry(ctx context.Context, entryID id.EntryID, chargeID string, now time.Time) (*Entry, error)
	FailEntry(ctx context.Context, entryID id.EntryID, reason, chargeID string, now time.Time) (*Entry, error)
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)
	// SumEntries totals COMPLETED entries received by payeeID since the
	// given instant, grouped by kind and currency.
	SumEntries(ctx context.Context, payeeID string, since time.Time) ([]Total, error)
}

// ListOpts filters ListEntries. Zero values do not filter.
type ListOpts struct {
	PayerUserID    string
	PayeeCreatorID string
	Kind           Kind
	Status         Status
	// CreatedBefore keeps entries created strictly before this instant.
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// Matches reports whether e passes the filter.
func (o ListOpts) Matches(e *Entry) bool {
	switch {
	case o.PayerUserID != "" && e.PayerUserID != o.PayerUserID:
		return false
	case o.PayeeCreatorID != "" && e.PayeeCreatorID != o.PayeeCreatorID:
		return false
	case o.Kind != "" && e.Kind != o.Kind:
		return false
	case o.Status != "" && e.Status != o.Status:
		return false
	case !o.CreatedBefore.IsZero() && !e.CreatedAt.Before(o.CreatedBefore):
		return false
	}
	return true
}

// Total is one group of SumEntries.
type Total struct {
	Kind   Kind        `json:"kind"`
	Amount types.Money `json:"amount"`
	Count  int64       `json:"count"`
}
