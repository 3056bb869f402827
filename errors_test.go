package paywall_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/paywall"
	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

func TestErrorClassification(t *testing.T) {
	entryID := id.NewEntryID()

	tests := []struct {
		name     string
		err      error
		check    func(error) bool
		expected bool
	}{
		{"validation struct", paywall.ValidationError{Field: "userId", Message: "is required"}, paywall.IsValidation, true},
		{"invalid amount", paywall.ErrInvalidAmount, paywall.IsValidation, true},
		{"wrapped currency", fmt.Errorf("%w: eur", paywall.ErrCurrencyNotSupported), paywall.IsValidation, true},
		{"conflict is not validation", paywall.ErrAlreadyPurchased, paywall.IsValidation, false},

		{"already subscribed", subscription.ErrDuplicateActive, paywall.IsConflict, true},
		{"already purchased", purchase.ErrAlreadyPurchased, paywall.IsConflict, true},
		{"in flight", ledger.ErrInFlight, paywall.IsConflict, true},
		{"duplicate key", ledger.ErrDuplicateRequest, paywall.IsConflict, true},
		{"already refunded", ledger.ErrAlreadyRefunded, paywall.IsConflict, true},

		{"payment", &paywall.PaymentError{EntryID: entryID, Reason: "card_declined", Err: paywall.ErrChargeFailed}, paywall.IsPaymentFailed, true},
		{"commit", &paywall.CommitError{EntryID: entryID, ChargeID: "ch_1", Err: errors.New("db down")}, paywall.IsCommitFailed, true},
		{"commit is not payment", &paywall.CommitError{EntryID: entryID}, paywall.IsPaymentFailed, false},

		{"creator", catalog.ErrCreatorNotFound, paywall.IsNotFound, true},
		{"entry", ledger.ErrNotFound, paywall.IsNotFound, true},
		{"no active", subscription.ErrNoActive, paywall.IsNotFound, true},

		{"pending is retryable", paywall.ErrPaymentPending, paywall.IsRetryable, true},
		{"conflict is not retryable", paywall.ErrAlreadySubscribed, paywall.IsRetryable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.check(tt.err))
		})
	}
}

func TestSentinelAliases(t *testing.T) {
	assert.ErrorIs(t, fmt.Errorf("commit: %w", subscription.ErrDuplicateActive), paywall.ErrAlreadySubscribed)
	assert.ErrorIs(t, fmt.Errorf("commit: %w", purchase.ErrAlreadyPurchased), paywall.ErrAlreadyPurchased)
	assert.ErrorIs(t, ledger.ErrInFlight, paywall.ErrActionInProgress)
}

func TestPaymentErrorMessage(t *testing.T) {
	entryID := id.NewEntryID()
	err := &paywall.PaymentError{EntryID: entryID, Reason: "insufficient_funds", Err: paywall.ErrChargeFailed}

	assert.Contains(t, err.Error(), "insufficient_funds")
	assert.ErrorIs(t, err, paywall.ErrChargeFailed)
}

func TestMultiError(t *testing.T) {
	var m paywall.MultiError
	assert.False(t, m.HasErrors())
	assert.NoError(t, m.ErrOrNil())

	m.Add(nil)
	m.Add(paywall.ErrPaymentPending)
	m.Add(&paywall.CommitError{EntryID: id.NewEntryID(), Err: errors.New("timeout")})

	assert.True(t, m.HasErrors())
	assert.Equal(t, paywall.ErrPaymentPending, m.First())
	assert.ErrorIs(t, m.ErrOrNil(), paywall.ErrPaymentPending)
	assert.True(t, paywall.IsCommitFailed(m.ErrOrNil()))
	assert.Contains(t, m.Error(), "2 errors")
}
