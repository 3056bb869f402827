// Package entitlement decides whether a viewer may see a content item.
//
// Resolve is a read-only composition of two registry lookups and the
// content's visibility. It never writes, so it is safe to call from any
// number of goroutines.
package entitlement

import (
	"time"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/types"
)

// Reason explains an access decision.
type Reason string

const (
	ReasonOwner         Reason = "OWNER"
	ReasonPublic        Reason = "PUBLIC"
	ReasonSubscribed    Reason = "SUBSCRIBED"
	ReasonNotSubscribed Reason = "NOT_SUBSCRIBED"
	ReasonPurchased     Reason = "PURCHASED"
	ReasonLockedPPV     Reason = "LOCKED_PPV"
)

// Decision is the result of resolving one (viewer, content) pair.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  Reason `json:"reason"`
	// Price is set for LOCKED_PPV so the caller can render an unlock prompt.
	Price      *types.Money       `json:"price,omitempty"`
	Visibility content.Visibility `json:"visibility"`
	// ValidUntil bounds a grant that rests on a subscription. Zero means
	// the decision does not expire on its own.
	ValidUntil time.Time `json:"valid_until,omitzero"`
}

// ValidAt reports whether the decision still holds at now.
func (d Decision) ValidAt(now time.Time) bool {
	return d.ValidUntil.IsZero() || now.Before(d.ValidUntil)
}

// AccessLevel is the tier label shown to clients.
type AccessLevel string

const (
	AccessFree       AccessLevel = "FREE"
	AccessSubscriber AccessLevel = "SUBSCRIBER"
	AccessPPV        AccessLevel = "PPV"
)

// Access is the caller-facing access shape.
type Access struct {
	IsLocked     bool         `json:"isLocked"`
	AccessLevel  AccessLevel  `json:"accessLevel"`
	HasPurchased bool         `json:"hasPurchased"`
	Price        *types.Money `json:"price,omitempty"`
}

// Access derives the caller-facing shape. The access level follows the
// content's visibility, not the reason access was granted.
func (d Decision) Access() Access {
	level := AccessFree
	switch d.Visibility {
	case content.VisibilitySubscribers:
		level = AccessSubscriber
	case content.VisibilityPaid:
		level = AccessPPV
	}
	return Access{
		IsLocked:     !d.Granted,
		AccessLevel:  level,
		HasPurchased: d.Reason == ReasonPurchased,
		Price:        d.Price,
	}
}
