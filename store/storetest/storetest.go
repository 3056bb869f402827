// Package storetest is a conformance suite for store.Store backends.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

var t0 = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

// Run exercises every store.Store contract against the backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore) })
	t.Run("SubscriptionUniqueness", func(t *testing.T) { testSubscriptionUniqueness(t, newStore) })
	t.Run("CancelAndExtend", func(t *testing.T) { testCancelAndExtend(t, newStore) })
	t.Run("Purchases", func(t *testing.T) { testPurchases(t, newStore) })
	t.Run("Entries", func(t *testing.T) { testEntries(t, newStore) })
	t.Run("EntryLocks", func(t *testing.T) { testEntryLocks(t, newStore) })
	t.Run("Refunds", func(t *testing.T) { testRefunds(t, newStore) })
	t.Run("Commits", func(t *testing.T) { testCommits(t, newStore) })
	t.Run("SumEntries", func(t *testing.T) { testSumEntries(t, newStore) })
}

func testSubscriptions(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	sub := subscription.New("fan", "creator", 30, t0)
	sub.Price = types.USD(999)
	require.NoError(t, s.CreateSubscription(ctx, sub, t0))

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.True(t, sub.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, types.USD(999), got.Price)

	latest, err := s.LatestSubscription(ctx, "fan", "creator")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, latest.ID)

	_, err = s.LatestSubscription(ctx, "fan", "nobody")
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	active, err := s.ListSubscriptions(ctx, subscription.ListOpts{CreatorID: "creator", ActiveAt: t0})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	expired, err := s.ListSubscriptions(ctx, subscription.ListOpts{CreatorID: "creator", ActiveAt: sub.ExpiresAt})
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func testSubscriptionUniqueness(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	first := subscription.New("fan", "creator", 30, t0)
	require.NoError(t, s.CreateSubscription(ctx, first, t0))

	dup := subscription.New("fan", "creator", 30, t0.Add(time.Hour))
	err := s.CreateSubscription(ctx, dup, t0.Add(time.Hour))
	assert.ErrorIs(t, err, subscription.ErrDuplicateActive)

	// Concurrent creates for a fresh pair: exactly one wins.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CreateSubscription(ctx, subscription.New("fan2", "creator", 30, t0), t0) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	// Once expired, a new record replaces the old one.
	later := first.ExpiresAt
	next := subscription.New("fan", "creator", 30, later)
	require.NoError(t, s.CreateSubscription(ctx, next, later))

	old, err := s.GetSubscription(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, old.Status)
}

func testCancelAndExtend(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	sub := subscription.New("fan", "creator", 30, t0)
	require.NoError(t, s.CreateSubscription(ctx, sub, t0))

	cancelled, err := s.CancelSubscription(ctx, "fan", "creator", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, cancelled.Status)
	assert.True(t, sub.ExpiresAt.Equal(cancelled.ExpiresAt))
	require.NotNil(t, cancelled.CanceledAt)

	again, err := s.CancelSubscription(ctx, "fan", "creator", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, cancelled.CanceledAt.Equal(*again.CanceledAt))

	_, err = s.CancelSubscription(ctx, "fan", "creator", sub.ExpiresAt)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	// Extending after expiry restarts from now.
	after := sub.ExpiresAt.Add(24 * time.Hour)
	extended, err := s.ExtendSubscription(ctx, "fan", "creator", 30*subscription.Day, after)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, extended.Status)
	assert.True(t, after.Add(30*subscription.Day).Equal(extended.ExpiresAt))

	// Extending early stacks onto the remaining time.
	stacked, err := s.ExtendSubscription(ctx, "fan", "creator", 10*subscription.Day, after)
	require.NoError(t, err)
	assert.True(t, after.Add(40*subscription.Day).Equal(stacked.ExpiresAt))

	_, err = s.ExtendSubscription(ctx, "fan", "nobody", subscription.Day, after)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func testPurchases(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	p := purchase.New("fan", "post-1", purchase.ContentPost, types.USD(500), t0)
	require.NoError(t, s.CreatePurchase(ctx, p))

	err := s.CreatePurchase(ctx, purchase.New("fan", "post-1", purchase.ContentPost, types.USD(500), t0))
	assert.ErrorIs(t, err, purchase.ErrAlreadyPurchased)

	require.NoError(t, s.CreatePurchase(ctx, purchase.New("fan", "msg-1", purchase.ContentMessage, types.USD(300), t0.Add(time.Minute))))

	got, err := s.GetPurchase(ctx, "fan", purchase.ContentPost, "post-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, types.USD(500), got.Amount)

	_, err = s.GetPurchase(ctx, "other", purchase.ContentPost, "post-1")
	assert.ErrorIs(t, err, purchase.ErrNotFound)
	_, err = s.GetPurchase(ctx, "fan", purchase.ContentMessage, "post-1")
	assert.ErrorIs(t, err, purchase.ErrNotFound, "posts and messages are numbered apart")

	all, err := s.ListPurchases(ctx, "fan", purchase.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "msg-1", all[0].ContentID, "newest first")

	messages, err := s.ListPurchases(ctx, "fan", purchase.ListOpts{ContentType: purchase.ContentMessage})
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	// A message sharing a post's ID is a different item.
	require.NoError(t, s.CreatePurchase(ctx, purchase.New("fan", "post-1", purchase.ContentMessage, types.USD(5000), t0)))
	shared, err := s.GetPurchase(ctx, "fan", purchase.ContentMessage, "post-1")
	require.NoError(t, err)
	assert.Equal(t, types.USD(5000), shared.Amount)
}

func testEntries(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	e := ledger.NewEntry(ledger.KindTip, "fan", "creator", types.USD(300), "", t0)
	e.IdempotencyKey = "tip-1"
	e.Metadata["note"] = "hi"
	require.NoError(t, s.AppendEntry(ctx, e))

	got, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, got.Status)
	assert.Equal(t, "hi", got.Metadata["note"])

	byKey, err := s.GetEntryByIdempotencyKey(ctx, "fan", "tip-1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, byKey.ID)

	_, err = s.GetEntryByIdempotencyKey(ctx, "other", "tip-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	dup := ledger.NewEntry(ledger.KindTip, "fan", "creator", types.USD(300), "", t0)
	dup.IdempotencyKey = "tip-1"
	assert.ErrorIs(t, s.AppendEntry(ctx, dup), ledger.ErrDuplicateRequest)

	completed, err := s.CompleteEntry(ctx, e.ID, "ch_1", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, completed.Status)
	assert.Equal(t, "ch_1", completed.ChargeID)
	require.NotNil(t, completed.SettledAt)

	_, err = s.FailEntry(ctx, e.ID, "late", "", t0.Add(2*time.Second))
	assert.ErrorIs(t, err, ledger.ErrNotPending, "terminal entries never change")

	pending := ledger.NewEntry(ledger.KindTip, "fan", "creator", types.USD(100), "", t0.Add(time.Minute))
	require.NoError(t, s.AppendEntry(ctx, pending))

	list, err := s.ListEntries(ctx, ledger.ListOpts{Status: ledger.StatusPending, CreatedBefore: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)

	list, err = s.ListEntries(ctx, ledger.ListOpts{PayerUserID: "fan", Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID, "newest first")
}

func testEntryLocks(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	lock := ledger.UnlockLock("fan", string(purchase.ContentPost), "post-1")

	first := ledger.NewEntry(ledger.KindPPV, "fan", "creator", types.USD(500), "post-1", t0)
	first.LockKey = lock
	require.NoError(t, s.AppendEntry(ctx, first))

	second := ledger.NewEntry(ledger.KindPPV, "fan", "creator", types.USD(500), "post-1", t0)
	second.LockKey = lock
	assert.ErrorIs(t, s.AppendEntry(ctx, second), ledger.ErrInFlight)

	failed, err := s.FailEntry(ctx, first.ID, "card_declined", "ch_x", t0)
	require.NoError(t, err)
	assert.Equal(t, "card_declined", failed.FailureReason)

	third := ledger.NewEntry(ledger.KindPPV, "fan", "creator", types.USD(500), "post-1", t0)
	third.LockKey = lock
	assert.NoError(t, s.AppendEntry(ctx, third), "settling releases the lock")
}

func testRefunds(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	tip := ledger.NewEntry(ledger.KindTip, "fan", "creator", types.USD(300), "", t0)
	require.NoError(t, s.AppendEntry(ctx, tip))
	_, err := s.CompleteEntry(ctx, tip.ID, "ch_1", t0)
	require.NoError(t, err)

	newRefund := func() *ledger.Entry {
		r := ledger.NewEntry(ledger.KindRefund, "fan", "creator", types.USD(300), "", t0)
		r.RefundOf = tip.ID
		return r
	}

	first := newRefund()
	require.NoError(t, s.AppendEntry(ctx, first))
	assert.ErrorIs(t, s.AppendEntry(ctx, newRefund()), ledger.ErrAlreadyRefunded, "pending refund holds the entry")

	_, err = s.FailEntry(ctx, first.ID, "processor down", "", t0)
	require.NoError(t, err)

	second := newRefund()
	require.NoError(t, s.AppendEntry(ctx, second), "a failed refund frees the entry")
	_, err = s.CompleteEntry(ctx, second.ID, "re_1", t0)
	require.NoError(t, err)

	assert.ErrorIs(t, s.AppendEntry(ctx, newRefund()), ledger.ErrAlreadyRefunded, "completed refund holds the entry")

	other := ledger.NewEntry(ledger.KindTip, "fan", "creator", types.USD(100), "", t0)
	require.NoError(t, s.AppendEntry(ctx, other))
	otherRefund := ledger.NewEntry(ledger.KindRefund, "fan", "creator", types.USD(100), "", t0)
	otherRefund.RefundOf = other.ID
	assert.NoError(t, s.AppendEntry(ctx, otherRefund), "refunds of different entries are independent")
}

func testCommits(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	// Subscription commit.
	sub := subscription.New("fan", "creator", 30, t0)
	subEntry := ledger.NewEntry(ledger.KindSubscription, "fan", "creator", types.USD(999), sub.ID.String(), t0)
	subEntry.LockKey = ledger.SubscriptionLock("fan", "creator")
	require.NoError(t, s.AppendEntry(ctx, subEntry))
	require.NoError(t, s.CommitSubscription(ctx, subEntry.ID, "ch_sub", sub, t0))

	got, err := s.GetEntry(ctx, subEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assert.Equal(t, "ch_sub", got.ChargeID)

	// A second commit of the same entry is rejected.
	err = s.CommitSubscription(ctx, subEntry.ID, "ch_sub", subscription.New("fan", "creator", 30, t0), t0)
	assert.ErrorIs(t, err, ledger.ErrNotPending)

	// Renewal commit stacks.
	renewEntry := ledger.NewEntry(ledger.KindSubscription, "fan", "creator", types.USD(999), sub.ID.String(), t0)
	require.NoError(t, s.AppendEntry(ctx, renewEntry))
	renewed, err := s.CommitRenewal(ctx, renewEntry.ID, "ch_renew", "fan", "creator", 30*subscription.Day, t0.Add(10*subscription.Day))
	require.NoError(t, err)
	assert.True(t, t0.Add(60*subscription.Day).Equal(renewed.ExpiresAt))

	// A cancelled subscription that is still running refuses a renewal.
	_, err = s.CancelSubscription(ctx, "fan", "creator", t0.Add(11*subscription.Day))
	require.NoError(t, err)
	lateRenew := ledger.NewEntry(ledger.KindSubscription, "fan", "creator", types.USD(999), sub.ID.String(), t0)
	require.NoError(t, s.AppendEntry(ctx, lateRenew))
	_, err = s.CommitRenewal(ctx, lateRenew.ID, "ch_late", "fan", "creator", 30*subscription.Day, t0.Add(12*subscription.Day))
	assert.ErrorIs(t, err, subscription.ErrCanceled)

	pendingRenew, err := s.GetEntry(ctx, lateRenew.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, pendingRenew.Status)
	latest, err := s.LatestSubscription(ctx, "fan", "creator")
	require.NoError(t, err)
	assert.True(t, t0.Add(60*subscription.Day).Equal(latest.ExpiresAt), "expiry untouched")

	// Purchase commit and its conflict.
	p := purchase.New("fan", "post-1", purchase.ContentPost, types.USD(500), t0)
	pEntry := ledger.NewEntry(ledger.KindPPV, "fan", "creator", types.USD(500), "post-1", t0)
	require.NoError(t, s.AppendEntry(ctx, pEntry))
	p.EntryID = pEntry.ID
	require.NoError(t, s.CommitPurchase(ctx, pEntry.ID, "ch_p", p, t0))

	stored, err := s.GetPurchase(ctx, "fan", purchase.ContentPost, "post-1")
	require.NoError(t, err)
	assert.Equal(t, pEntry.ID, stored.EntryID)

	conflict := ledger.NewEntry(ledger.KindPPV, "fan", "creator", types.USD(500), "post-1", t0)
	require.NoError(t, s.AppendEntry(ctx, conflict))
	err = s.CommitPurchase(ctx, conflict.ID, "ch_p2", purchase.New("fan", "post-1", purchase.ContentPost, types.USD(500), t0), t0)
	assert.ErrorIs(t, err, purchase.ErrAlreadyPurchased)

	still, err := s.GetEntry(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, still.Status, "a failed commit writes nothing")
}

func testSumEntries(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	add := func(kind ledger.Kind, amount types.Money, complete bool, at time.Time) {
		e := ledger.NewEntry(kind, "fan", "creator", amount, "", at)
		require.NoError(t, s.AppendEntry(ctx, e))
		if complete {
			_, err := s.CompleteEntry(ctx, e.ID, "ch", at)
			require.NoError(t, err)
		}
	}
	add(ledger.KindTip, types.USD(300), true, t0)
	add(ledger.KindTip, types.USD(200), true, t0.Add(time.Hour))
	add(ledger.KindTip, types.USD(999), false, t0)
	add(ledger.KindPPV, types.USD(500), true, t0)
	add(ledger.KindTip, types.EUR(100), true, t0)

	totals, err := s.SumEntries(ctx, "creator", time.Time{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ledger.Total{
		{Kind: ledger.KindPPV, Amount: types.USD(500), Count: 1},
		{Kind: ledger.KindTip, Amount: types.EUR(100), Count: 1},
		{Kind: ledger.KindTip, Amount: types.USD(500), Count: 2},
	}, totals)

	recent, err := s.SumEntries(ctx, "creator", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []ledger.Total{{Kind: ledger.KindTip, Amount: types.USD(200), Count: 1}}, recent)
}
