// Package purchase records one-off unlocks of PAID posts and messages.
package purchase

import (
	"errors"
	"time"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/types"
)

var (
	ErrNotFound         = errors.New("paywall: purchase not found")
	ErrAlreadyPurchased = errors.New("paywall: content already purchased")
)

// ContentType is the kind of item a purchase unlocks.
type ContentType string

const (
	ContentPost    ContentType = "POST"
	ContentMessage ContentType = "MESSAGE"
)

// TypeOf maps a content kind to the purchase type that unlocks it. Posts
// and messages have separate ID spaces, so a purchase is identified by
// user, type and content ID together.
func TypeOf(kind content.Kind) ContentType {
	if kind == content.KindMessage {
		return ContentMessage
	}
	return ContentPost
}

// Purchase grants permanent access to one content item.
type Purchase struct {
	ID          id.PurchaseID `json:"id"`
	UserID      string        `json:"user_id"`
	ContentID   string        `json:"content_id"`
	ContentType ContentType   `json:"content_type"`
	Amount      types.Money   `json:"amount"`
	// EntryID links the purchase to the ledger entry that paid for it.
	EntryID     id.EntryID `json:"entry_id"`
	PurchasedAt time.Time  `json:"purchased_at"`
}

// New builds a purchase record stamped at now.
func New(userID, contentID string, contentType ContentType, amount types.Money, now time.Time) *Purchase {
	return &Purchase{
		ID:          id.NewPurchaseID(),
		UserID:      userID,
		ContentID:   contentID,
		ContentType: contentType,
		Amount:      amount,
		PurchasedAt: now.UTC(),
	}
}
