package purchase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/store/memory"
	"github.com/xraph/paywall/types"
)

var t0 = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func TestRecordAndHas(t *testing.T) {
	ctx := context.Background()
	r := purchase.NewRegistry(memory.New())

	has, err := r.Has(ctx, "fan", purchase.ContentPost, "post-1")
	require.NoError(t, err)
	assert.False(t, has)

	p, err := r.Record(ctx, "fan", "post-1", purchase.ContentPost, types.USD(499), t0)
	require.NoError(t, err)
	assert.Equal(t, "post-1", p.ContentID)

	has, err = r.Has(ctx, "fan", purchase.ContentPost, "post-1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = r.Has(ctx, "someone-else", purchase.ContentPost, "post-1")
	require.NoError(t, err)
	assert.False(t, has, "purchases are per user")

	got, err := r.Get(ctx, "fan", purchase.ContentPost, "post-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPostsAndMessagesAreSeparateItems(t *testing.T) {
	ctx := context.Background()
	r := purchase.NewRegistry(memory.New())

	_, err := r.Record(ctx, "fan", "42", purchase.ContentPost, types.USD(100), t0)
	require.NoError(t, err)

	has, err := r.Has(ctx, "fan", purchase.ContentMessage, "42")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = r.Record(ctx, "fan", "42", purchase.ContentMessage, types.USD(5000), t0)
	require.NoError(t, err, "a message sharing a post's ID can still be bought")
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, purchase.ContentPost, purchase.TypeOf(content.KindPost))
	assert.Equal(t, purchase.ContentPost, purchase.TypeOf(""))
	assert.Equal(t, purchase.ContentMessage, purchase.TypeOf(content.KindMessage))
}

func TestRecordTwiceFails(t *testing.T) {
	ctx := context.Background()
	r := purchase.NewRegistry(memory.New())

	_, err := r.Record(ctx, "fan", "msg-1", purchase.ContentMessage, types.USD(300), t0)
	require.NoError(t, err)
	_, err = r.Record(ctx, "fan", "msg-1", purchase.ContentMessage, types.USD(300), t0.Add(time.Minute))
	assert.ErrorIs(t, err, purchase.ErrAlreadyPurchased)
}

func TestListForUser(t *testing.T) {
	ctx := context.Background()
	r := purchase.NewRegistry(memory.New())

	for i, id := range []string{"p1", "p2", "p3"} {
		_, err := r.Record(ctx, "fan", id, purchase.ContentPost, types.USD(100), t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	got, err := r.ListForUser(ctx, "fan", purchase.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p3", got[0].ContentID, "newest first")
}
