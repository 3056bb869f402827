package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/types"
)

func TestStaticLookups(t *testing.T) {
	ctx := context.Background()
	c := catalog.NewStatic()
	price := types.USD(500)

	require.NoError(t, c.AddContent(content.Post("post-1", "creator", content.VisibilityPaid, &price)))
	require.NoError(t, c.AddContent(content.Message("msg-1", "creator", &price)))

	post, err := c.Content(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, content.VisibilityPaid, post.Visibility)

	_, err = c.Content(ctx, "msg-1")
	assert.ErrorIs(t, err, catalog.ErrContentNotFound)

	msg, err := c.Message(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, content.KindMessage, msg.Kind)

	post.Visibility = content.VisibilityPublic
	again, err := c.Content(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, content.VisibilityPaid, again.Visibility, "returned copies must not alias storage")
}

func TestStaticRejectsInvalidContent(t *testing.T) {
	c := catalog.NewStatic()
	err := c.AddContent(&content.Content{ID: "x", OwnerCreatorID: "c", Visibility: content.VisibilityPaid})
	var invalid *content.InvalidError
	assert.ErrorAs(t, err, &invalid)
}

func TestTerms(t *testing.T) {
	c := catalog.NewStatic()
	c.SetTerms("creator", catalog.Terms{Price: types.USD(999), Enabled: true})

	terms, err := c.Terms(context.Background(), "creator")
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultPeriodDays, terms.PeriodDays)
	assert.NoError(t, terms.Validate())

	_, err = c.Terms(context.Background(), "nobody")
	assert.ErrorIs(t, err, catalog.ErrCreatorNotFound)

	assert.Error(t, catalog.Terms{Price: types.USD(0), PeriodDays: 30}.Validate())
	assert.Error(t, catalog.Terms{Price: types.USD(1)}.Validate())
}
