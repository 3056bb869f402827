// Package charge defines the contract with the external payment processor.
//
// A Charger either answers definitively (succeeded or declined) or returns
// an error, in which case the outcome is unknown and must be reconciled
// with Lookup before anything is committed. Every charge carries an
// idempotency key so retries and lookups refer to the same payment.
package charge

import (
	"context"
	"errors"

	"github.com/xraph/paywall/types"
)

var (
	// ErrNotFound means no charge was ever created for the idempotency key.
	ErrNotFound = errors.New("charge: not found")
	// ErrAlreadyRefunded is returned when refunding a refunded charge.
	ErrAlreadyRefunded = errors.New("charge: already refunded")
)

// Status is the outcome of a charge.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusPending means the processor has not reached a final answer.
	StatusPending Status = "pending"
)

// Request describes one payment from a fan to a creator.
type Request struct {
	IdempotencyKey string
	PayerID        string
	PayeeID        string
	Amount         types.Money
	Description    string
	Metadata       map[string]string
}

// Result is the processor's answer for a charge.
type Result struct {
	ChargeID      string
	Status        Status
	FailureReason string
}

// Succeeded reports whether money was collected.
func (r *Result) Succeeded() bool { return r != nil && r.Status == StatusSucceeded }

// Charger moves money through an external processor.
type Charger interface {
	// Charge collects req.Amount. A decline is a Result with StatusFailed
	// and a nil error; a non-nil error means the outcome is unknown.
	Charge(ctx context.Context, req Request) (*Result, error)
	// Lookup reports the state of the charge created for key, or ErrNotFound.
	Lookup(ctx context.Context, key string) (*Result, error)
	// Refund returns a succeeded charge to the payer and returns the refund reference.
	Refund(ctx context.Context, chargeID, reason string) (string, error)
}
