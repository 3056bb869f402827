package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/paywall"
	"github.com/xraph/paywall/id"
)

func TestErrorResponse(t *testing.T) {
	entryID := id.NewEntryID()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", paywall.ValidationError{Field: "amount", Message: "must be positive"}, http.StatusUnprocessableEntity, "validation"},
		{"self dealing", paywall.ErrSelfDealing, http.StatusUnprocessableEntity, "validation"},
		{"already subscribed", fmt.Errorf("subscribe: %w", paywall.ErrAlreadySubscribed), http.StatusConflict, "conflict"},
		{"in flight", paywall.ErrActionInProgress, http.StatusConflict, "conflict"},
		{"declined", &paywall.PaymentError{EntryID: entryID, Reason: "card_declined", Err: paywall.ErrChargeFailed}, http.StatusPaymentRequired, "payment_failed"},
		{"pending", paywall.ErrPaymentPending, http.StatusAccepted, "payment_pending"},
		{"commit", &paywall.CommitError{EntryID: entryID, ChargeID: "ch_1"}, http.StatusInternalServerError, "commit_failed"},
		{"not found", paywall.ErrContentNotFound, http.StatusNotFound, "not_found"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := errorResponse(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestErrorResponseHidesInternals(t *testing.T) {
	_, body := errorResponse(fmt.Errorf("pq: connection refused"))
	assert.Equal(t, "internal server error", body.Error)
}

func TestUserLimiterSweepsIdleUsers(t *testing.T) {
	l := newUserLimiter(1, 1)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("a", start))
	assert.False(t, l.allow("a", start))
	assert.Len(t, l.visitors, 1)

	later := start.Add(5 * time.Minute)
	assert.True(t, l.allow("b", later))
	assert.Len(t, l.visitors, 1, "idle visitor should be dropped")
}
