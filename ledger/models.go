// Package ledger defines the append-only record of monetary events.
//
// An entry's parties, amount, kind and related entity are fixed when it is
// appended. Its status moves forward once, from PENDING to COMPLETED or
// FAILED; settled entries never change again. Corrections are new REFUND
// entries.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/types"
)

var (
	ErrNotFound         = errors.New("paywall: ledger entry not found")
	ErrNotPending       = errors.New("paywall: ledger entry already settled")
	ErrInFlight         = errors.New("paywall: a payment for this action is already in progress")
	ErrDuplicateRequest = errors.New("paywall: idempotency key already used")
	// ErrAlreadyRefunded rejects a second REFUND for an entry while an
	// earlier one is pending or completed.
	ErrAlreadyRefunded = errors.New("paywall: ledger entry already refunded")
)

// Kind is the monetary event type.
type Kind string

const (
	KindSubscription Kind = "SUBSCRIPTION"
	KindPPV          Kind = "PPV"
	KindTip          Kind = "TIP"
	KindPaidMessage  Kind = "PAID_MESSAGE"
	KindRefund       Kind = "REFUND"
)

// GrantsEntitlement reports whether completing an entry of this kind must
// be paired with a registry write.
func (k Kind) GrantsEntitlement() bool {
	switch k {
	case KindSubscription, KindPPV, KindPaidMessage:
		return true
	}
	return false
}

// Status is the settlement state of an entry.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Entry is one monetary event.
type Entry struct {
	ID             id.EntryID  `json:"id"`
	PayerUserID    string      `json:"payer_user_id"`
	PayeeCreatorID string      `json:"payee_creator_id"`
	Amount         types.Money `json:"amount"`
	Kind           Kind        `json:"kind"`
	Status         Status      `json:"status"`
	// RelatedEntityID is the subscription ID for SUBSCRIPTION entries and
	// the content ID for unlocks.
	RelatedEntityID string `json:"related_entity_id,omitempty"`
	ChargeID        string `json:"charge_id,omitempty"`
	// IdempotencyKey is caller supplied and unique per payer.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// LockKey is unique among PENDING entries.
	LockKey       string            `json:"lock_key,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	RefundOf      id.EntryID        `json:"refund_of,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	SettledAt     *time.Time        `json:"settled_at,omitempty"`
}

// NewEntry builds a PENDING entry stamped at now.
func NewEntry(kind Kind, payerID, payeeID string, amount types.Money, relatedID string, now time.Time) *Entry {
	return &Entry{
		ID:              id.NewEntryID(),
		PayerUserID:     payerID,
		PayeeCreatorID:  payeeID,
		Amount:          amount,
		Kind:            kind,
		Status:          StatusPending,
		RelatedEntityID: relatedID,
		Metadata:        map[string]string{},
		CreatedAt:       now.UTC(),
	}
}

// SubscriptionLock is the in-flight lock key for subscribing to a creator.
func SubscriptionLock(userID, creatorID string) string {
	return fmt.Sprintf("sub:%s:%s", userID, creatorID)
}

// UnlockLock is the in-flight lock key for unlocking a content item of
// the given type.
func UnlockLock(userID, contentType, contentID string) string {
	return fmt.Sprintf("unlock:%s:%s:%s", userID, contentType, contentID)
}

// MarkCompleted settles a pending entry as COMPLETED.
func (e *Entry) MarkCompleted(chargeID string, now time.Time) error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, e.ID, e.Status)
	}
	at := now.UTC()
	e.Status = StatusCompleted
	if chargeID != "" {
		e.ChargeID = chargeID
	}
	e.SettledAt = &at
	return nil
}

// MarkFailed settles a pending entry as FAILED with a reason.
func (e *Entry) MarkFailed(reason, chargeID string, now time.Time) error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, e.ID, e.Status)
	}
	at := now.UTC()
	e.Status = StatusFailed
	e.FailureReason = reason
	if chargeID != "" {
		e.ChargeID = chargeID
	}
	e.SettledAt = &at
	return nil
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	if e.SettledAt != nil {
		at := *e.SettledAt
		c.SettledAt = &at
	}
	return &c
}

// Transaction is the caller-facing shape used by earnings and history views.
type Transaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	CreatorID string            `json:"creatorId"`
	Amount    types.Money       `json:"amount"`
	Type      string            `json:"type"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Transaction returns the caller-facing shape. Paid messages are reported
// as PPV with metadata contentType=MESSAGE.
func (e *Entry) Transaction() Transaction {
	meta := make(map[string]string, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}

	typ := string(e.Kind)
	switch e.Kind {
	case KindPaidMessage:
		typ = string(KindPPV)
		meta["contentType"] = "MESSAGE"
	case KindPPV:
		meta["contentType"] = "POST"
	case KindRefund:
		meta["refundOf"] = e.RefundOf.String()
	}
	if e.RelatedEntityID != "" {
		meta["relatedEntityId"] = e.RelatedEntityID
	}

	return Transaction{
		ID:        e.ID.String(),
		UserID:    e.PayerUserID,
		CreatorID: e.PayeeCreatorID,
		Amount:    e.Amount,
		Type:      typ,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
		Metadata:  meta,
	}
}
