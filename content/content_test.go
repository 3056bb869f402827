package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/types"
)

func price(cents int64) *types.Money {
	m := types.USD(cents)
	return &m
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       *content.Content
		field   string
		wantErr bool
	}{
		{"public post", content.Post("p1", "c1", content.VisibilityPublic, nil), "", false},
		{"subscribers post", content.Post("p1", "c1", content.VisibilitySubscribers, nil), "", false},
		{"paid post", content.Post("p1", "c1", content.VisibilityPaid, price(999)), "", false},
		{"paid message", content.Message("m1", "c1", price(500)), "", false},
		{"free message", content.Message("m1", "c1", nil), "", false},
		{"nil", nil, "content", true},
		{"missing id", &content.Content{OwnerCreatorID: "c1", Visibility: content.VisibilityPublic}, "id", true},
		{"missing owner", &content.Content{ID: "p1", Visibility: content.VisibilityPublic}, "ownerCreatorId", true},
		{"bad visibility", &content.Content{ID: "p1", OwnerCreatorID: "c1", Visibility: "FRIENDS"}, "visibility", true},
		{"bad kind", &content.Content{ID: "p1", OwnerCreatorID: "c1", Kind: "STORY", Visibility: content.VisibilityPublic}, "kind", true},
		{"paid without price", content.Post("p1", "c1", content.VisibilityPaid, nil), "price", true},
		{"paid with zero price", content.Post("p1", "c1", content.VisibilityPaid, price(0)), "price", true},
		{"public with price", &content.Content{ID: "p1", OwnerCreatorID: "c1", Visibility: content.VisibilityPublic, Price: price(100)}, "price", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var invalid *content.InvalidError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestPostDropsPriceForNonPaid(t *testing.T) {
	c := content.Post("p1", "c1", content.VisibilitySubscribers, price(999))
	assert.Nil(t, c.Price)
	assert.NoError(t, c.Validate())
}

func TestPriceIsCopied(t *testing.T) {
	p := price(999)
	c := content.Post("p1", "c1", content.VisibilityPaid, p)
	p.Amount = 1
	assert.Equal(t, int64(999), c.Price.Amount)
}

func TestKindOrDefault(t *testing.T) {
	assert.Equal(t, content.KindPost, (&content.Content{}).KindOrDefault())
	assert.Equal(t, content.KindMessage, content.Message("m", "c", nil).KindOrDefault())
}
