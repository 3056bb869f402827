package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/store"
	"github.com/xraph/paywall/store/storetest"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func TestEntryModelPendingLock(t *testing.T) {
	e := ledger.NewEntry(ledger.KindPPV, "fan", "creator", types.USD(500), "post-1", now)
	e.LockKey = ledger.UnlockLock("fan", "POST", "post-1")

	assert.Equal(t, e.LockKey, toEntryModel(e).PendingLock)

	require.NoError(t, e.MarkCompleted("ch_1", now))
	m := toEntryModel(e)
	assert.Empty(t, m.PendingLock, "settled entries release the lock")
	assert.Equal(t, e.LockKey, m.LockKey)

	back, err := fromEntryModel(m)
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)
	assert.True(t, back.RefundOf.IsNil())
	assert.NotNil(t, back.Metadata)
}

func TestSubscriptionModelLive(t *testing.T) {
	sub := subscription.New("fan", "creator", 30, now)
	assert.True(t, toSubscriptionModel(sub).Live)

	sub.MarkCancelled(now)
	assert.True(t, toSubscriptionModel(sub).Live, "cancelled records keep their slot")

	sub.MarkExpired(now)
	assert.False(t, toSubscriptionModel(sub).Live)
}

func TestMigrationIndexesNamed(t *testing.T) {
	indexes := migrationIndexes()
	require.Len(t, indexes, 3)
	for _, col := range []string{colSubscriptions, colPurchases, colEntries} {
		assert.NotEmpty(t, indexes[col], col)
	}
}

// TestStoreConformance needs a replica set, since commits use transactions.
func TestStoreConformance(t *testing.T) {
	uri := os.Getenv("PAYWALL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PAYWALL_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, uri, "paywall_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	storetest.Run(t, func(t *testing.T) store.Store {
		require.NoError(t, s.Truncate(ctx))
		return s
	})
}
