package paywall

import (
	"errors"
	"fmt"

	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// Sentinel errors for common failure scenarios. Where a leaf package owns
// the condition, the root sentinel is the same value so errors.Is works
// across layers.
var (
	// Validation errors
	ErrInvalidInput          = errors.New("paywall: invalid input")
	ErrInvalidAmount         = errors.New("paywall: amount must be positive")
	ErrNotPaidContent        = errors.New("paywall: content is not paid")
	ErrSelfDealing           = errors.New("paywall: creators cannot pay themselves")
	ErrSubscriptionsDisabled = errors.New("paywall: creator does not accept subscriptions")
	ErrCurrencyNotSupported  = errors.New("paywall: currency not supported")

	// Conflict errors
	ErrAlreadySubscribed = subscription.ErrDuplicateActive
	ErrAlreadyPurchased  = purchase.ErrAlreadyPurchased
	ErrActionInProgress  = ledger.ErrInFlight
	ErrDuplicateRequest  = ledger.ErrDuplicateRequest
	ErrAlreadyRefunded   = ledger.ErrAlreadyRefunded

	// Subscription errors
	ErrSubscriptionNotFound = subscription.ErrNotFound
	ErrNoActiveSubscription = subscription.ErrNoActive
	ErrSubscriptionCanceled = subscription.ErrCanceled

	// Lookup errors
	ErrNotFound        = errors.New("paywall: not found")
	ErrContentNotFound = catalog.ErrContentNotFound
	ErrCreatorNotFound = catalog.ErrCreatorNotFound
	ErrEntryNotFound   = ledger.ErrNotFound

	// Payment errors
	ErrPaymentPending = errors.New("paywall: payment outcome pending")
	ErrNotRefundable  = errors.New("paywall: entry cannot be refunded")
	ErrChargeFailed   = errors.New("paywall: charge failed")

	// Engine errors
	ErrNotStarted = errors.New("paywall: engine not started")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("paywall: validation failed for %s: %s", e.Field, e.Message)
}

// PaymentError reports a declined charge. The ledger entry is FAILED and
// nothing else changed.
type PaymentError struct {
	EntryID id.EntryID
	Reason  string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("paywall: payment failed for %s", e.EntryID)
	}
	return fmt.Sprintf("paywall: payment failed for %s: %s", e.EntryID, e.Reason)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// CommitError reports money collected without the matching write. The
// entry stays PENDING until the reconciler completes or compensates it.
type CommitError struct {
	EntryID  id.EntryID
	ChargeID string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("paywall: commit failed for %s (charge %s): %v", e.EntryID, e.ChargeID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "paywall: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("paywall: %d errors occurred", len(e.Errors))
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e if it holds errors, otherwise nil.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsValidation returns true for bad input rejected before any charge.
func IsValidation(err error) bool {
	var ve ValidationError
	var ce *content.InvalidError
	return errors.As(err, &ve) ||
		errors.As(err, &ce) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNotPaidContent) ||
		errors.Is(err, ErrSelfDealing) ||
		errors.Is(err, ErrSubscriptionsDisabled) ||
		errors.Is(err, ErrCurrencyNotSupported) ||
		errors.Is(err, ErrSubscriptionCanceled)
}

// IsConflict returns true when the caller already has what they asked for,
// or the same action is already being processed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadySubscribed) ||
		errors.Is(err, ErrAlreadyPurchased) ||
		errors.Is(err, ErrActionInProgress) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrAlreadyRefunded)
}

// IsPaymentFailed returns true if the charge was declined.
func IsPaymentFailed(err error) bool {
	var pe *PaymentError
	return errors.As(err, &pe)
}

// IsCommitFailed returns true if money was collected but not committed.
func IsCommitFailed(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrContentNotFound) ||
		errors.Is(err, ErrCreatorNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, purchase.ErrNotFound) ||
		errors.Is(err, charge.ErrNotFound)
}

// IsRetryable returns true if the caller may retry the same request.
func IsRetryable(err error) bool {
	return IsPaymentFailed(err) ||
		errors.Is(err, ErrPaymentPending) ||
		errors.Is(err, ErrActionInProgress)
}
