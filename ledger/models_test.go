package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSettleOnce(t *testing.T) {
	e := ledger.NewEntry(ledger.KindPPV, "u1", "c1", types.USD(999), "p1", t0)
	require.Equal(t, ledger.StatusPending, e.Status)

	require.NoError(t, e.MarkCompleted("ch_1", t0.Add(time.Second)))
	assert.Equal(t, ledger.StatusCompleted, e.Status)
	assert.Equal(t, "ch_1", e.ChargeID)
	require.NotNil(t, e.SettledAt)

	err := e.MarkFailed("late", "", t0.Add(2*time.Second))
	assert.True(t, errors.Is(err, ledger.ErrNotPending))
	assert.Equal(t, ledger.StatusCompleted, e.Status)
	assert.Empty(t, e.FailureReason)
}

func TestMarkFailed(t *testing.T) {
	e := ledger.NewEntry(ledger.KindTip, "u1", "c1", types.USD(500), "", t0)
	require.NoError(t, e.MarkFailed("card_declined", "", t0))
	assert.Equal(t, ledger.StatusFailed, e.Status)
	assert.Equal(t, "card_declined", e.FailureReason)
	assert.ErrorIs(t, e.MarkCompleted("ch", t0), ledger.ErrNotPending)
}

func TestGrantsEntitlement(t *testing.T) {
	assert.True(t, ledger.KindSubscription.GrantsEntitlement())
	assert.True(t, ledger.KindPPV.GrantsEntitlement())
	assert.True(t, ledger.KindPaidMessage.GrantsEntitlement())
	assert.False(t, ledger.KindTip.GrantsEntitlement())
	assert.False(t, ledger.KindRefund.GrantsEntitlement())
}

func TestTransactionView(t *testing.T) {
	msg := ledger.NewEntry(ledger.KindPaidMessage, "u1", "c1", types.USD(300), "m1", t0)
	tx := msg.Transaction()
	assert.Equal(t, "PPV", tx.Type)
	assert.Equal(t, "MESSAGE", tx.Metadata["contentType"])
	assert.Equal(t, "m1", tx.Metadata["relatedEntityId"])
	assert.Equal(t, "u1", tx.UserID)
	assert.Equal(t, "c1", tx.CreatorID)
	assert.Empty(t, msg.Metadata, "view must not write into the entry")

	tip := ledger.NewEntry(ledger.KindTip, "u1", "c1", types.USD(100), "", t0)
	assert.Equal(t, "TIP", tip.Transaction().Type)
}

func TestCloneIsDeep(t *testing.T) {
	e := ledger.NewEntry(ledger.KindTip, "u1", "c1", types.USD(100), "", t0)
	e.Metadata["note"] = "hi"
	c := e.Clone()
	c.Metadata["note"] = "changed"
	assert.Equal(t, "hi", e.Metadata["note"])
}

func TestListOptsMatches(t *testing.T) {
	e := ledger.NewEntry(ledger.KindTip, "u1", "c1", types.USD(100), "", t0)
	assert.True(t, ledger.ListOpts{}.Matches(e))
	assert.True(t, ledger.ListOpts{PayerUserID: "u1", Status: ledger.StatusPending}.Matches(e))
	assert.False(t, ledger.ListOpts{PayeeCreatorID: "c2"}.Matches(e))
	assert.False(t, ledger.ListOpts{CreatedBefore: t0}.Matches(e))
	assert.True(t, ledger.ListOpts{CreatedBefore: t0.Add(time.Nanosecond)}.Matches(e))
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "sub:u1:c1", ledger.SubscriptionLock("u1", "c1"))
	assert.Equal(t, "unlock:u1:POST:p1", ledger.UnlockLock("u1", "POST", "p1"))
	assert.NotEqual(t, ledger.UnlockLock("u1", "POST", "42"), ledger.UnlockLock("u1", "MESSAGE", "42"))
}
