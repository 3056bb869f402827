package paywall

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

// Entry metadata keys the reconciler reads back to finish a commit.
const (
	metaPeriodDays  = "periodDays"
	metaRenewal     = "renewal"
	metaContentType = "contentType"
	metaReason      = "reason"
	metaNote        = "note"
)

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// Subscribe charges the creator's subscription fee and starts a
// subscription. It fails with ErrAlreadySubscribed, without charging, when
// the pair already has a valid subscription.
func (e *Engine) Subscribe(ctx context.Context, userID, creatorID string, now time.Time) (sub *subscription.Subscription, err error) {
	ctx, span := tracer.Start(ctx, "paywall.Subscribe", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("creator.id", creatorID),
	))
	defer func() { endSpan(span, err) }()

	if err := validateParties(userID, creatorID); err != nil {
		return nil, err
	}
	terms, err := e.subscriptionTerms(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	if _, err := e.subs.GetActive(ctx, userID, creatorID, now); err == nil {
		return nil, ErrAlreadySubscribed
	} else if !errors.Is(err, subscription.ErrNoActive) {
		return nil, err
	}

	pending := subscription.New(userID, creatorID, terms.PeriodDays, now)
	entry := ledger.NewEntry(ledger.KindSubscription, userID, creatorID, terms.Price, pending.ID.String(), now)
	entry.LockKey = ledger.SubscriptionLock(userID, creatorID)
	entry.Metadata[metaPeriodDays] = strconv.Itoa(terms.PeriodDays)

	chargeID, err := e.pay(ctx, entry, fmt.Sprintf("Subscription to %s", creatorID), now)
	if err != nil {
		return nil, err
	}

	st, err := e.settle(ctx, entry, chargeID, now)
	if err != nil {
		return nil, err
	}
	return st.sub, nil
}

// Renew charges the current fee and extends the pair's subscription by the
// creator's period, counted from max(now, expiresAt). A cancelled
// subscription must run out before it can be renewed, and a renewal
// charge that settles after a cancel is refunded.
func (e *Engine) Renew(ctx context.Context, userID, creatorID string, now time.Time) (sub *subscription.Subscription, err error) {
	ctx, span := tracer.Start(ctx, "paywall.Renew", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("creator.id", creatorID),
	))
	defer func() { endSpan(span, err) }()

	if err := validateParties(userID, creatorID); err != nil {
		return nil, err
	}
	current, err := e.store.LatestSubscription(ctx, userID, creatorID)
	if err != nil {
		return nil, err
	}
	if current.StatusAt(now) == subscription.StatusCancelled {
		return nil, ErrSubscriptionCanceled
	}
	terms, err := e.subscriptionTerms(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	entry := ledger.NewEntry(ledger.KindSubscription, userID, creatorID, terms.Price, current.ID.String(), now)
	entry.LockKey = ledger.SubscriptionLock(userID, creatorID)
	entry.Metadata[metaPeriodDays] = strconv.Itoa(terms.PeriodDays)
	entry.Metadata[metaRenewal] = "true"

	chargeID, err := e.pay(ctx, entry, fmt.Sprintf("Subscription renewal for %s", creatorID), now)
	if err != nil {
		return nil, err
	}

	st, err := e.settle(ctx, entry, chargeID, now)
	if err != nil {
		return nil, err
	}
	return st.sub, nil
}

// Cancel flags the pair's subscription as cancelled. No money moves and
// access continues until expiresAt. Cancelling twice is a no-op.
func (e *Engine) Cancel(ctx context.Context, userID, creatorID string, now time.Time) (sub *subscription.Subscription, err error) {
	ctx, span := tracer.Start(ctx, "paywall.Cancel", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("creator.id", creatorID),
	))
	defer func() { endSpan(span, err) }()

	if err := validateParties(userID, creatorID); err != nil {
		return nil, err
	}
	sub, err = e.subs.Cancel(ctx, userID, creatorID, now)
	if err != nil {
		return nil, err
	}

	e.logger.Info("subscription canceled",
		"subscription_id", sub.ID.String(),
		"user_id", userID,
		"creator_id", creatorID,
		"expires_at", sub.ExpiresAt,
	)
	e.plugins.EmitSubscriptionCanceled(ctx, sub)
	return sub, nil
}

// ──────────────────────────────────────────────────
// Unlocks
// ──────────────────────────────────────────────────

// UnlockPPV charges the price of a PAID post and records a permanent
// purchase. A second unlock fails with ErrAlreadyPurchased without charging.
func (e *Engine) UnlockPPV(ctx context.Context, userID string, post *content.Content, now time.Time) (*purchase.Purchase, error) {
	return e.unlock(ctx, userID, post, content.KindPost, now)
}

// UnlockPaidMessage is UnlockPPV for a paid direct message.
func (e *Engine) UnlockPaidMessage(ctx context.Context, userID string, message *content.Content, now time.Time) (*purchase.Purchase, error) {
	return e.unlock(ctx, userID, message, content.KindMessage, now)
}

func (e *Engine) unlock(ctx context.Context, userID string, c *content.Content, kind content.Kind, now time.Time) (p *purchase.Purchase, err error) {
	ctx, span := tracer.Start(ctx, "paywall.Unlock", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("content.kind", string(kind)),
	))
	defer func() { endSpan(span, err) }()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("content.id", c.ID))
	if c.KindOrDefault() != kind {
		return nil, ValidationError{Field: "content", Message: fmt.Sprintf("expected a %s, got a %s", kind, c.KindOrDefault())}
	}
	if c.Visibility != content.VisibilityPaid {
		return nil, ErrNotPaidContent
	}
	if err := validateParties(userID, c.OwnerCreatorID); err != nil {
		return nil, err
	}
	if err := e.checkCurrency(*c.Price); err != nil {
		return nil, err
	}

	contentType := purchase.TypeOf(kind)
	has, err := e.purchases.Has(ctx, userID, contentType, c.ID)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, ErrAlreadyPurchased
	}

	entryKind := ledger.KindPPV
	if kind == content.KindMessage {
		entryKind = ledger.KindPaidMessage
	}
	entry := ledger.NewEntry(entryKind, userID, c.OwnerCreatorID, *c.Price, c.ID, now)
	entry.LockKey = ledger.UnlockLock(userID, string(contentType), c.ID)
	entry.Metadata[metaContentType] = string(contentType)

	chargeID, err := e.pay(ctx, entry, fmt.Sprintf("Unlock %s %s", kind, c.ID), now)
	if err != nil {
		return nil, err
	}

	st, err := e.settle(ctx, entry, chargeID, now)
	if err != nil {
		return nil, err
	}
	return st.purchase, nil
}

// ──────────────────────────────────────────────────
// Tips
// ──────────────────────────────────────────────────

// TipOption configures a tip.
type TipOption func(*tipOptions)

type tipOptions struct {
	idempotencyKey string
	note           string
}

// WithIdempotencyKey makes a tip safe to retry: a second call with the same
// key returns the original entry instead of charging again.
func WithIdempotencyKey(key string) TipOption {
	return func(o *tipOptions) { o.idempotencyKey = key }
}

// WithNote attaches a short message to the tip.
func WithNote(note string) TipOption {
	return func(o *tipOptions) { o.note = note }
}

// Tip charges amount and records a TIP entry. Tips grant no entitlement.
func (e *Engine) Tip(ctx context.Context, userID, creatorID string, amount types.Money, now time.Time, opts ...TipOption) (entry *ledger.Entry, err error) {
	ctx, span := tracer.Start(ctx, "paywall.Tip", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("creator.id", creatorID),
		attribute.Int64("amount", amount.Amount),
	))
	defer func() { endSpan(span, err) }()

	var o tipOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateParties(userID, creatorID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := e.checkCurrency(amount); err != nil {
		return nil, err
	}

	if o.idempotencyKey != "" {
		existing, err := e.store.GetEntryByIdempotencyKey(ctx, userID, o.idempotencyKey)
		switch {
		case err == nil:
			return replayTip(existing, creatorID, amount)
		case !errors.Is(err, ledger.ErrNotFound):
			return nil, err
		}
	}

	entry = ledger.NewEntry(ledger.KindTip, userID, creatorID, amount, "", now)
	entry.IdempotencyKey = o.idempotencyKey
	if o.note != "" {
		entry.Metadata[metaNote] = o.note
	}

	chargeID, err := e.pay(ctx, entry, fmt.Sprintf("Tip for %s", creatorID), now)
	if errors.Is(err, ErrDuplicateRequest) && o.idempotencyKey != "" {
		// Lost the race to a concurrent request with the same key.
		existing, gerr := e.store.GetEntryByIdempotencyKey(ctx, userID, o.idempotencyKey)
		if gerr != nil {
			return nil, gerr
		}
		return replayTip(existing, creatorID, amount)
	}
	if err != nil {
		return nil, err
	}

	if _, err := e.settle(ctx, entry, chargeID, now); err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// replayTip returns the entry recorded for an idempotency key. A key reused
// for a different tip is rejected.
func replayTip(existing *ledger.Entry, creatorID string, amount types.Money) (*ledger.Entry, error) {
	if existing.Kind != ledger.KindTip || existing.PayeeCreatorID != creatorID || !existing.Amount.Equal(amount) {
		return nil, ErrDuplicateRequest
	}
	switch existing.Status {
	case ledger.StatusPending:
		return existing, ErrPaymentPending
	case ledger.StatusFailed:
		return existing, &PaymentError{EntryID: existing.ID, Reason: existing.FailureReason, Err: ErrChargeFailed}
	}
	return existing, nil
}

// ──────────────────────────────────────────────────
// Refunds
// ──────────────────────────────────────────────────

// Refund returns the money of a COMPLETED entry to its payer and appends a
// REFUND entry. The original entry and any entitlement it granted are
// left as they are.
func (e *Engine) Refund(ctx context.Context, entryID string, reason string, now time.Time) (refund *ledger.Entry, err error) {
	ctx, span := tracer.Start(ctx, "paywall.Refund", trace.WithAttributes(
		attribute.String("entry.id", entryID),
	))
	defer func() { endSpan(span, err) }()

	eid, err := parseEntryID(entryID)
	if err != nil {
		return nil, err
	}
	original, err := e.store.GetEntry(ctx, eid)
	if err != nil {
		return nil, err
	}
	if original.Status != ledger.StatusCompleted || original.Kind == ledger.KindRefund || original.ChargeID == "" {
		return nil, fmt.Errorf("%w: %s is a %s %s entry", ErrNotRefundable, original.ID, original.Status, original.Kind)
	}

	refund = ledger.NewEntry(ledger.KindRefund, original.PayerUserID, original.PayeeCreatorID, original.Amount, original.RelatedEntityID, now)
	refund.RefundOf = original.ID
	if reason != "" {
		refund.Metadata[metaReason] = reason
	}
	if err := e.store.AppendEntry(ctx, refund); err != nil {
		if errors.Is(err, ledger.ErrAlreadyRefunded) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotRefundable, original.ID, err)
		}
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	refundID, err := e.charger.Refund(ctx, original.ChargeID, reason)
	if err != nil && !errors.Is(err, charge.ErrAlreadyRefunded) {
		_, _ = e.store.FailEntry(ctx, refund.ID, "refund failed: "+err.Error(), "", now) //nolint:errcheck // the refund error is what the caller needs
		return nil, fmt.Errorf("paywall: refund %s: %w", original.ID, err)
	}

	if _, err := e.settle(ctx, refund, refundID, now); err != nil {
		return nil, err
	}

	e.logger.Info("entry refunded",
		"entry_id", original.ID.String(),
		"refund_id", refund.ID.String(),
		"amount", original.Amount.String(),
	)
	e.plugins.EmitRefunded(ctx, refund, original)
	return refund, nil
}

// ──────────────────────────────────────────────────
// Charging
// ──────────────────────────────────────────────────

// pay appends the PENDING entry and charges it. It returns the charge ID
// once money is collected. A decline settles the entry FAILED; an outcome
// that cannot be determined leaves it PENDING for the reconciler. A charge
// call that errors is never treated as a decline.
func (e *Engine) pay(ctx context.Context, entry *ledger.Entry, description string, now time.Time) (string, error) {
	if err := e.store.AppendEntry(ctx, entry); err != nil {
		return "", err
	}

	res, err := e.charger.Charge(ctx, charge.Request{
		IdempotencyKey: entry.ID.String(),
		PayerID:        entry.PayerUserID,
		PayeeID:        entry.PayeeCreatorID,
		Amount:         entry.Amount,
		Description:    description,
		Metadata: map[string]string{
			"entry_id": entry.ID.String(),
			"kind":     string(entry.Kind),
			"related":  entry.RelatedEntityID,
		},
	})

	// Money may have moved; finish even if the caller went away.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		e.logger.Warn("charge outcome unknown, looking it up",
			"entry_id", entry.ID.String(),
			"error", err,
		)
		res, err = e.charger.Lookup(ctx, entry.ID.String())
		switch {
		case errors.Is(err, charge.ErrNotFound):
			// Processor search can lag its writes. Only the reconciler,
			// after the reconcile delay, may conclude there was no charge.
			e.logger.Info("charge not visible yet, leaving entry pending",
				"entry_id", entry.ID.String(),
			)
			return "", fmt.Errorf("%w: entry %s", ErrPaymentPending, entry.ID)
		case err != nil:
			return "", fmt.Errorf("%w: entry %s: %v", ErrPaymentPending, entry.ID, err)
		}
	}

	switch res.Status {
	case charge.StatusSucceeded:
		return res.ChargeID, nil
	case charge.StatusPending:
		e.logger.Info("charge pending",
			"entry_id", entry.ID.String(),
			"charge_id", res.ChargeID,
		)
		return "", fmt.Errorf("%w: entry %s", ErrPaymentPending, entry.ID)
	}

	return "", e.decline(ctx, entry, res, now)
}

func (e *Engine) decline(ctx context.Context, entry *ledger.Entry, res *charge.Result, now time.Time) error {
	reason := res.FailureReason
	if reason == "" {
		reason = "declined"
	}
	failed, err := e.store.FailEntry(ctx, entry.ID, reason, res.ChargeID, now)
	if err != nil {
		e.logger.Error("failed to record declined charge",
			"entry_id", entry.ID.String(),
			"error", err,
		)
		failed = entry
	}

	perr := &PaymentError{EntryID: entry.ID, Reason: reason, Err: ErrChargeFailed}
	e.logger.Info("payment declined",
		"entry_id", entry.ID.String(),
		"kind", string(entry.Kind),
		"payer", entry.PayerUserID,
		"reason", reason,
	)
	e.plugins.EmitPaymentFailed(ctx, failed, perr)
	return perr
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func validateParties(userID, creatorID string) error {
	if userID == "" {
		return ValidationError{Field: "userId", Message: "is required"}
	}
	if creatorID == "" {
		return ValidationError{Field: "creatorId", Message: "is required"}
	}
	if userID == creatorID {
		return ErrSelfDealing
	}
	return nil
}

func (e *Engine) subscriptionTerms(ctx context.Context, creatorID string) (catalog.Terms, error) {
	terms, err := e.catalog.Terms(ctx, creatorID)
	if err != nil {
		return catalog.Terms{}, err
	}
	if !terms.Enabled {
		return catalog.Terms{}, ErrSubscriptionsDisabled
	}
	if err := terms.Validate(); err != nil {
		return catalog.Terms{}, ValidationError{Field: "terms", Message: err.Error()}
	}
	if err := e.checkCurrency(terms.Price); err != nil {
		return catalog.Terms{}, err
	}
	return terms, nil
}

func (e *Engine) checkCurrency(m types.Money) error {
	if e.currency == "" {
		return nil
	}
	if err := m.CheckCurrency(e.currency); err != nil {
		return fmt.Errorf("%w: %v", ErrCurrencyNotSupported, err)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
