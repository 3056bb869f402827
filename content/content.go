// Package content describes the posts and messages whose access paywall decides.
//
// Content is owned by the surrounding application; paywall only reads the
// fields that matter for access: owner, visibility and price.
package content

import (
	"fmt"
	"time"

	"github.com/xraph/paywall/types"
)

// Visibility is the access tier of a content item.
type Visibility string

const (
	VisibilityPublic      Visibility = "PUBLIC"
	VisibilitySubscribers Visibility = "SUBSCRIBERS"
	VisibilityPaid        Visibility = "PAID"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilitySubscribers, VisibilityPaid:
		return true
	}
	return false
}

// Kind distinguishes feed posts from direct messages.
type Kind string

const (
	KindPost    Kind = "POST"
	KindMessage Kind = "MESSAGE"
)

// Content is the access-relevant view of a post or a paid message.
type Content struct {
	ID             string       `json:"id"`
	OwnerCreatorID string       `json:"ownerCreatorId"`
	Kind           Kind         `json:"kind"`
	Visibility     Visibility   `json:"visibility"`
	Price          *types.Money `json:"price,omitempty"`
	MediaType      string       `json:"mediaType,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// InvalidError reports a content descriptor that breaks its invariants.
type InvalidError struct {
	Field   string
	Message string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("content: invalid %s: %s", e.Field, e.Message)
}

// Validate checks identity fields and that a positive price is present
// exactly when the visibility is PAID.
func (c *Content) Validate() error {
	switch {
	case c == nil:
		return &InvalidError{Field: "content", Message: "is required"}
	case c.ID == "":
		return &InvalidError{Field: "id", Message: "is required"}
	case c.OwnerCreatorID == "":
		return &InvalidError{Field: "ownerCreatorId", Message: "is required"}
	case !c.Visibility.Valid():
		return &InvalidError{Field: "visibility", Message: fmt.Sprintf("unknown value %q", c.Visibility)}
	case c.Kind != "" && c.Kind != KindPost && c.Kind != KindMessage:
		return &InvalidError{Field: "kind", Message: fmt.Sprintf("unknown value %q", c.Kind)}
	}

	if c.Visibility == VisibilityPaid {
		if c.Price == nil {
			return &InvalidError{Field: "price", Message: "is required for PAID content"}
		}
		if !c.Price.IsPositive() {
			return &InvalidError{Field: "price", Message: "must be positive"}
		}
		return nil
	}
	if c.Price != nil {
		return &InvalidError{Field: "price", Message: fmt.Sprintf("must be absent for %s content", c.Visibility)}
	}
	return nil
}

// KindOrDefault returns the kind, treating an unset kind as a post.
func (c *Content) KindOrDefault() Kind {
	if c.Kind == "" {
		return KindPost
	}
	return c.Kind
}

// Ref identifies the item across kinds. Posts and messages are numbered
// independently, so the same ID can name one of each.
func (c *Content) Ref() string {
	return string(c.KindOrDefault()) + ":" + c.ID
}

// Post builds a post descriptor. price is ignored unless visibility is PAID.
func Post(contentID, ownerID string, visibility Visibility, price *types.Money) *Content {
	return build(contentID, ownerID, KindPost, visibility, price)
}

// Message builds a direct message descriptor. A non-nil price makes it a
// paid message.
func Message(messageID, senderID string, price *types.Money) *Content {
	visibility := VisibilityPublic
	if price != nil {
		visibility = VisibilityPaid
	}
	return build(messageID, senderID, KindMessage, visibility, price)
}

func build(contentID, ownerID string, kind Kind, visibility Visibility, price *types.Money) *Content {
	c := &Content{
		ID:             contentID,
		OwnerCreatorID: ownerID,
		Kind:           kind,
		Visibility:     visibility,
	}
	if visibility == VisibilityPaid && price != nil {
		p := *price
		c.Price = &p
	}
	return c
}
