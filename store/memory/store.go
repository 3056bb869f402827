// Package memory is an in-process store.Store for tests and single-node
// development. One mutex guards every map, so each method, including the
// commit methods, is a single atomic step.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Subscription storage, keyed by ID
	subscriptions map[string]*subscription.Subscription

	// Purchase storage, keyed by user|type|content
	purchases map[string]*purchase.Purchase

	// Ledger storage
	entries      map[string]*ledger.Entry
	pendingLocks map[string]string // lock key -> entry ID
	idempotency  map[string]string // payer|key -> entry ID
	refunds      map[string]string // refunded entry ID -> live refund entry ID
}

func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Subscription),
		purchases:     make(map[string]*purchase.Purchase),
		entries:       make(map[string]*ledger.Entry),
		pendingLocks:  make(map[string]string),
		idempotency:   make(map[string]string),
		refunds:       make(map[string]string),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertSubscriptionLocked(sub, now)
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return cloneSubscription(sub), nil
	}
	return nil, subscription.ErrNotFound
}

func (s *Store) LatestSubscription(_ context.Context, userID, creatorID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.latestLocked(userID, creatorID); sub != nil {
		return cloneSubscription(sub), nil
	}
	return nil, subscription.ErrNotFound
}

func (s *Store) CancelSubscription(_ context.Context, userID, creatorID string, now time.Time) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.latestLocked(userID, creatorID)
	if sub == nil || !sub.IsLive() || !sub.IsActiveAt(now) {
		return nil, subscription.ErrNotFound
	}
	sub.MarkCancelled(now)
	return cloneSubscription(sub), nil
}

func (s *Store) ExtendSubscription(_ context.Context, userID, creatorID string, extension time.Duration, now time.Time) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.extendLocked(userID, creatorID, extension, now)
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if opts.Matches(sub) {
			result = append(result, cloneSubscription(sub))
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID.String(), a.ID.String()))
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) insertSubscriptionLocked(sub *subscription.Subscription, now time.Time) error {
	for _, existing := range s.subscriptions {
		if existing.UserID != sub.UserID || existing.CreatorID != sub.CreatorID || !existing.IsLive() {
			continue
		}
		if existing.IsActiveAt(now) {
			return subscription.ErrDuplicateActive
		}
	}
	// Only demote once the insert is known to succeed.
	for _, existing := range s.subscriptions {
		if existing.UserID == sub.UserID && existing.CreatorID == sub.CreatorID && existing.IsLive() {
			existing.MarkExpired(now)
		}
	}
	s.subscriptions[sub.ID.String()] = cloneSubscription(sub)
	return nil
}

func (s *Store) latestLocked(userID, creatorID string) *subscription.Subscription {
	var latest *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || sub.CreatorID != creatorID {
			continue
		}
		if latest == nil || sub.ExpiresAt.After(latest.ExpiresAt) {
			latest = sub
		}
	}
	return latest
}

func (s *Store) extendLocked(userID, creatorID string, extension time.Duration, now time.Time) (*subscription.Subscription, error) {
	sub := s.latestLocked(userID, creatorID)
	if sub == nil {
		return nil, subscription.ErrNotFound
	}
	sub.Extend(extension, now)
	return cloneSubscription(sub), nil
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(_ context.Context, p *purchase.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertPurchaseLocked(p)
}

func (s *Store) GetPurchase(_ context.Context, userID string, contentType purchase.ContentType, contentID string) (*purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.purchases[purchaseKey(userID, contentType, contentID)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, purchase.ErrNotFound
}

func (s *Store) ListPurchases(_ context.Context, userID string, opts purchase.ListOpts) ([]*purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*purchase.Purchase, 0)
	for _, p := range s.purchases {
		if p.UserID != userID {
			continue
		}
		if opts.ContentType != "" && p.ContentType != opts.ContentType {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	slices.SortFunc(result, func(a, b *purchase.Purchase) int {
		return cmp.Or(b.PurchasedAt.Compare(a.PurchasedAt), cmp.Compare(b.ID.String(), a.ID.String()))
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) insertPurchaseLocked(p *purchase.Purchase) error {
	key := purchaseKey(p.UserID, p.ContentType, p.ContentID)
	if _, exists := s.purchases[key]; exists {
		return purchase.ErrAlreadyPurchased
	}
	cp := *p
	s.purchases[key] = &cp
	return nil
}

func purchaseKey(userID string, contentType purchase.ContentType, contentID string) string {
	return userID + "|" + string(contentType) + "|" + contentID
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(_ context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID.String()]; exists {
		return fmt.Errorf("memory: entry %s already exists", e.ID)
	}
	if e.IdempotencyKey != "" {
		if _, used := s.idempotency[e.PayerUserID+"|"+e.IdempotencyKey]; used {
			return ledger.ErrDuplicateRequest
		}
	}
	liveRefund := e.Kind == ledger.KindRefund && !e.RefundOf.IsNil() && e.Status != ledger.StatusFailed
	if liveRefund {
		if _, refunded := s.refunds[e.RefundOf.String()]; refunded {
			return ledger.ErrAlreadyRefunded
		}
	}
	if e.LockKey != "" && e.Status == ledger.StatusPending {
		if _, held := s.pendingLocks[e.LockKey]; held {
			return ledger.ErrInFlight
		}
		s.pendingLocks[e.LockKey] = e.ID.String()
	}
	if liveRefund {
		s.refunds[e.RefundOf.String()] = e.ID.String()
	}
	if e.IdempotencyKey != "" {
		s.idempotency[e.PayerUserID+"|"+e.IdempotencyKey] = e.ID.String()
	}
	s.entries[e.ID.String()] = e.Clone()
	return nil
}

func (s *Store) GetEntry(_ context.Context, entryID id.EntryID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[entryID.String()]; ok {
		return e.Clone(), nil
	}
	return nil, ledger.ErrNotFound
}

func (s *Store) GetEntryByIdempotencyKey(_ context.Context, payerID, key string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entryID, ok := s.idempotency[payerID+"|"+key]; ok {
		return s.entries[entryID].Clone(), nil
	}
	return nil, ledger.ErrNotFound
}

func (s *Store) CompleteEntry(_ context.Context, entryID id.EntryID, chargeID string, now time.Time) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.pendingLocked(entryID)
	if err != nil {
		return nil, err
	}
	s.settleLocked(e, func(e *ledger.Entry) error { return e.MarkCompleted(chargeID, now) })
	return e.Clone(), nil
}

func (s *Store) FailEntry(_ context.Context, entryID id.EntryID, reason, chargeID string, now time.Time) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.pendingLocked(entryID)
	if err != nil {
		return nil, err
	}
	s.settleLocked(e, func(e *ledger.Entry) error { return e.MarkFailed(reason, chargeID, now) })
	return e.Clone(), nil
}

func (s *Store) ListEntries(_ context.Context, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Entry, 0)
	for _, e := range s.entries {
		if opts.Matches(e) {
			result = append(result, e.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *ledger.Entry) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID.String(), a.ID.String()))
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SumEntries(_ context.Context, payeeID string, since time.Time) ([]ledger.Total, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type group struct {
		kind     ledger.Kind
		currency string
	}
	sums := make(map[group]*ledger.Total)
	for _, e := range s.entries {
		if e.PayeeCreatorID != payeeID || e.Status != ledger.StatusCompleted || e.CreatedAt.Before(since) {
			continue
		}
		g := group{kind: e.Kind, currency: e.Amount.Currency}
		t, ok := sums[g]
		if !ok {
			t = &ledger.Total{Kind: e.Kind, Amount: types.Zero(e.Amount.Currency)}
			sums[g] = t
		}
		t.Amount = t.Amount.Add(e.Amount)
		t.Count++
	}

	result := make([]ledger.Total, 0, len(sums))
	for _, t := range sums {
		result = append(result, *t)
	}
	slices.SortFunc(result, func(a, b ledger.Total) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Amount.Currency, b.Amount.Currency))
	})
	return result, nil
}

func (s *Store) pendingLocked(entryID id.EntryID) (*ledger.Entry, error) {
	e, ok := s.entries[entryID.String()]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	if e.Status != ledger.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ledger.ErrNotPending, e.ID, e.Status)
	}
	return e, nil
}

// settleLocked applies a status transition to a pending entry and
// releases its lock key. The entry has already been checked as pending.
func (s *Store) settleLocked(e *ledger.Entry, transition func(*ledger.Entry) error) {
	_ = transition(e) //nolint:errcheck // pendingLocked guarantees the transition is valid
	if e.LockKey != "" && s.pendingLocks[e.LockKey] == e.ID.String() {
		delete(s.pendingLocks, e.LockKey)
	}
	// A failed refund frees the original for another attempt.
	if e.Status == ledger.StatusFailed && !e.RefundOf.IsNil() && s.refunds[e.RefundOf.String()] == e.ID.String() {
		delete(s.refunds, e.RefundOf.String())
	}
}

// ==================== Commits ====================

func (s *Store) CommitSubscription(_ context.Context, entryID id.EntryID, chargeID string, sub *subscription.Subscription, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.pendingLocked(entryID)
	if err != nil {
		return err
	}
	if err := s.insertSubscriptionLocked(sub, now); err != nil {
		return err
	}
	s.settleLocked(e, func(e *ledger.Entry) error { return e.MarkCompleted(chargeID, now) })
	return nil
}

func (s *Store) CommitRenewal(_ context.Context, entryID id.EntryID, chargeID, userID, creatorID string, extension time.Duration, now time.Time) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.pendingLocked(entryID)
	if err != nil {
		return nil, err
	}
	if current := s.latestLocked(userID, creatorID); current != nil {
		if err := current.CheckRenewable(now); err != nil {
			return nil, err
		}
	}
	sub, err := s.extendLocked(userID, creatorID, extension, now)
	if err != nil {
		return nil, err
	}
	s.settleLocked(e, func(e *ledger.Entry) error { return e.MarkCompleted(chargeID, now) })
	return sub, nil
}

func (s *Store) CommitPurchase(_ context.Context, entryID id.EntryID, chargeID string, p *purchase.Purchase, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.pendingLocked(entryID)
	if err != nil {
		return err
	}
	if err := s.insertPurchaseLocked(p); err != nil {
		return err
	}
	s.settleLocked(e, func(e *ledger.Entry) error { return e.MarkCompleted(chargeID, now) })
	return nil
}

// ==================== Helpers ====================

func cloneSubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	if sub.CanceledAt != nil {
		at := *sub.CanceledAt
		cp.CanceledAt = &at
	}
	return &cp
}

func page[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
