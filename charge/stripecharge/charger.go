// Package stripecharge implements charge.Charger with Stripe PaymentIntents.
//
// Charges are off-session and confirmed immediately against the payer's
// saved payment method. The paywall idempotency key is sent both as the
// Stripe idempotency key and as metadata, so Lookup can find the
// PaymentIntent through the search API after a timeout.
package stripecharge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/xraph/paywall/charge"
)

// compile-time interface check
var _ charge.Charger = (*Charger)(nil)

const metadataKey = "paywall_key"

// Customer is the Stripe side of a paying user.
type Customer struct {
	CustomerID      string
	PaymentMethodID string
}

// CustomerResolver maps a paywall user to their Stripe customer.
type CustomerResolver func(ctx context.Context, userID string) (Customer, error)

// AccountResolver maps a creator to a Connect account that receives the
// funds. An empty account keeps the funds on the platform.
type AccountResolver func(ctx context.Context, creatorID string) (string, error)

// Charger implements charge.Charger.
type Charger struct {
	api      API
	customer CustomerResolver
	account  AccountResolver
}

// Option configures a Charger.
type Option func(*Charger)

// WithAccountResolver routes funds to creators' Connect accounts.
func WithAccountResolver(r AccountResolver) Option {
	return func(c *Charger) { c.account = r }
}

// New returns a Charger using api and resolving payers with customers.
func New(api API, customers CustomerResolver, opts ...Option) *Charger {
	c := &Charger{api: api, customer: customers}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Charge implements charge.Charger.
func (c *Charger) Charge(ctx context.Context, req charge.Request) (*charge.Result, error) {
	cust, err := c.customer(ctx, req.PayerID)
	if err != nil {
		return nil, fmt.Errorf("stripecharge: resolve customer %s: %w", req.PayerID, err)
	}
	if cust.PaymentMethodID == "" {
		return &charge.Result{Status: charge.StatusFailed, FailureReason: "no_payment_method"}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Amount),
		Currency:      stripe.String(req.Amount.Currency),
		Customer:      stripe.String(cust.CustomerID),
		PaymentMethod: stripe.String(cust.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if c.account != nil {
		acct, err := c.account(ctx, req.PayeeID)
		if err != nil {
			return nil, fmt.Errorf("stripecharge: resolve account %s: %w", req.PayeeID, err)
		}
		if acct != "" {
			params.TransferData = &stripe.PaymentIntentTransferDataParams{Destination: stripe.String(acct)}
		}
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata(metadataKey, req.IdempotencyKey)
	params.AddMetadata("payer_id", req.PayerID)
	params.AddMetadata("payee_id", req.PayeeID)

	pi, err := c.api.CreatePaymentIntent(params)
	if err != nil {
		return declined(err)
	}
	return resultOf(pi), nil
}

// Lookup implements charge.Charger.
func (c *Charger) Lookup(ctx context.Context, key string) (*charge.Result, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataKey, strings.ReplaceAll(key, "'", `\'`))

	found, err := c.api.SearchPaymentIntents(params)
	if err != nil {
		return nil, fmt.Errorf("stripecharge: lookup %s: %w", key, err)
	}
	if len(found) == 0 {
		return nil, charge.ErrNotFound
	}
	return resultOf(found[0]), nil
}

// Refund implements charge.Charger. chargeID is a PaymentIntent ID.
func (c *Charger) Refund(ctx context.Context, chargeID, reason string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + chargeID)
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	r, err := c.api.CreateRefund(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return "", charge.ErrAlreadyRefunded
		}
		return "", fmt.Errorf("stripecharge: refund %s: %w", chargeID, err)
	}
	return r.ID, nil
}

// declined turns a definitive Stripe rejection into a failed Result.
// Anything else leaves the outcome unknown.
func declined(err error) (*charge.Result, error) {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return nil, fmt.Errorf("stripecharge: charge: %w", err)
	}
	switch se.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		res := &charge.Result{Status: charge.StatusFailed, FailureReason: failureReason(se)}
		if se.PaymentIntent != nil {
			res.ChargeID = se.PaymentIntent.ID
		}
		return res, nil
	}
	return nil, fmt.Errorf("stripecharge: charge: %w", err)
}

func resultOf(pi *stripe.PaymentIntent) *charge.Result {
	res := &charge.Result{ChargeID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Status = charge.StatusSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		res.Status = charge.StatusPending
	default:
		res.Status = charge.StatusFailed
		res.FailureReason = string(pi.Status)
		if pi.LastPaymentError != nil {
			res.FailureReason = failureReason(pi.LastPaymentError)
		}
	}
	return res
}

func failureReason(se *stripe.Error) string {
	switch {
	case se.DeclineCode != "":
		return string(se.DeclineCode)
	case se.Code != "":
		return string(se.Code)
	}
	return string(se.Type)
}
