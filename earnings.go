package paywall

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

// Earnings is a creator's income derived from the ledger.
type Earnings struct {
	CreatorID string    `json:"creatorId"`
	Since     time.Time `json:"since,omitzero"`
	// ByKind holds COMPLETED totals per kind and currency, refunds included.
	ByKind []ledger.Total `json:"byKind"`
	// Net is income minus refunds, one amount per currency.
	Net []types.Money `json:"net"`
}

// Earnings sums the creator's COMPLETED entries since the given instant.
// A zero since covers all time.
func (e *Engine) Earnings(ctx context.Context, creatorID string, since time.Time) (*Earnings, error) {
	if creatorID == "" {
		return nil, ValidationError{Field: "creatorId", Message: "is required"}
	}
	totals, err := e.store.SumEntries(ctx, creatorID, since)
	if err != nil {
		return nil, err
	}

	net := make(map[string]types.Money)
	for _, t := range totals {
		cur := t.Amount.Currency
		sum, ok := net[cur]
		if !ok {
			sum = types.Zero(cur)
		}
		if t.Kind == ledger.KindRefund {
			sum = sum.Subtract(t.Amount)
		} else {
			sum = sum.Add(t.Amount)
		}
		net[cur] = sum
	}

	out := &Earnings{CreatorID: creatorID, Since: since, ByKind: totals, Net: make([]types.Money, 0, len(net))}
	for _, m := range net {
		out.Net = append(out.Net, m)
	}
	slices.SortFunc(out.Net, func(a, b types.Money) int { return strings.Compare(a.Currency, b.Currency) })
	return out, nil
}

// ListTransactions returns the user's ledger entries in the caller-facing
// shape, newest first.
func (e *Engine) ListTransactions(ctx context.Context, userID string, opts ledger.ListOpts) ([]ledger.Transaction, error) {
	opts.PayerUserID = userID
	entries, err := e.store.ListEntries(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Transaction())
	}
	return out, nil
}

// ListCreatorTransactions returns entries paid to the creator.
func (e *Engine) ListCreatorTransactions(ctx context.Context, creatorID string, opts ledger.ListOpts) ([]ledger.Transaction, error) {
	opts.PayeeCreatorID = creatorID
	entries, err := e.store.ListEntries(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Transaction())
	}
	return out, nil
}

// ListSubscriptions returns the user's subscriptions, newest first. Set
// opts.ActiveAt to keep only those granting access at that instant.
func (e *Engine) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return e.subs.ListForUser(ctx, userID, opts)
}
