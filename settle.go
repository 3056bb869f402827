package paywall

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// settlement is what a successful commit produced.
type settlement struct {
	sub      *subscription.Subscription
	purchase *purchase.Purchase
}

// settle completes a charged entry together with its registry write,
// retrying transient store errors. A uniqueness conflict refunds the
// charge. When retries run out the entry stays PENDING and a CommitError
// is returned.
func (e *Engine) settle(ctx context.Context, entry *ledger.Entry, chargeID string, now time.Time) (*settlement, error) {
	ctx = context.WithoutCancel(ctx)

	commit, err := e.commitFor(entry, now)
	if err != nil {
		return nil, e.escalate(ctx, entry, chargeID, err)
	}

	attempt := 0
	st, err := backoff.Retry(ctx, func() (*settlement, error) {
		attempt++
		st, err := commit(ctx, chargeID)
		switch {
		case err == nil:
			return st, nil
		case isCommitConflict(err), errors.Is(err, ledger.ErrNotPending):
			return nil, backoff.Permanent(err)
		}
		e.logger.Warn("commit attempt failed",
			"entry_id", entry.ID.String(),
			"attempt", attempt,
			"error", err,
		)
		return nil, err
	}, backoff.WithBackOff(e.newBackOff()), backoff.WithMaxTries(e.commitTries))

	switch {
	case err == nil:
	case isCommitConflict(err):
		return nil, e.compensate(ctx, entry, chargeID, err, now)
	case errors.Is(err, ledger.ErrNotPending):
		// Settled by someone else, usually the reconciler.
		return nil, fmt.Errorf("paywall: entry %s: %w", entry.ID, err)
	default:
		return nil, e.escalate(ctx, entry, chargeID, err)
	}

	_ = entry.MarkCompleted(chargeID, now) //nolint:errcheck // the store already moved it out of PENDING
	e.afterCommit(ctx, entry, st)
	return st, nil
}

// commitFor builds the store write that settles entry. Everything it needs
// is on the entry, so the reconciler can rebuild it after a crash.
func (e *Engine) commitFor(entry *ledger.Entry, now time.Time) (func(context.Context, string) (*settlement, error), error) {
	switch entry.Kind {
	case ledger.KindSubscription:
		days, err := strconv.Atoi(entry.Metadata[metaPeriodDays])
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("paywall: entry %s has no valid period", entry.ID)
		}
		if entry.Metadata[metaRenewal] == "true" {
			ext := time.Duration(days) * subscription.Day
			return func(ctx context.Context, chargeID string) (*settlement, error) {
				sub, err := e.store.CommitRenewal(ctx, entry.ID, chargeID, entry.PayerUserID, entry.PayeeCreatorID, ext, now)
				if err != nil {
					return nil, err
				}
				return &settlement{sub: sub}, nil
			}, nil
		}

		subID, err := id.ParseSubscriptionID(entry.RelatedEntityID)
		if err != nil {
			return nil, fmt.Errorf("paywall: entry %s: %w", entry.ID, err)
		}
		sub := subscription.New(entry.PayerUserID, entry.PayeeCreatorID, days, now)
		sub.ID = subID
		sub.Price = entry.Amount
		return func(ctx context.Context, chargeID string) (*settlement, error) {
			if err := e.store.CommitSubscription(ctx, entry.ID, chargeID, sub, now); err != nil {
				return nil, err
			}
			return &settlement{sub: sub}, nil
		}, nil

	case ledger.KindPPV, ledger.KindPaidMessage:
		contentType := purchase.ContentPost
		if entry.Kind == ledger.KindPaidMessage {
			contentType = purchase.ContentMessage
		}
		p := purchase.New(entry.PayerUserID, entry.RelatedEntityID, contentType, entry.Amount, now)
		p.EntryID = entry.ID
		return func(ctx context.Context, chargeID string) (*settlement, error) {
			if err := e.store.CommitPurchase(ctx, entry.ID, chargeID, p, now); err != nil {
				return nil, err
			}
			return &settlement{purchase: p}, nil
		}, nil

	case ledger.KindTip, ledger.KindRefund:
		return func(ctx context.Context, chargeID string) (*settlement, error) {
			if _, err := e.store.CompleteEntry(ctx, entry.ID, chargeID, now); err != nil {
				return nil, err
			}
			return &settlement{}, nil
		}, nil
	}
	return nil, fmt.Errorf("paywall: entry %s has unknown kind %q", entry.ID, entry.Kind)
}

// isCommitConflict reports errors that no retry can fix: the entitlement
// already exists, or the subscription to renew is gone.
func isCommitConflict(err error) bool {
	return errors.Is(err, ErrAlreadySubscribed) ||
		errors.Is(err, ErrAlreadyPurchased) ||
		errors.Is(err, subscription.ErrNotFound) ||
		errors.Is(err, subscription.ErrCanceled)
}

// compensate refunds a charge whose entitlement could not be written and
// settles the entry FAILED. If the refund itself fails the entry stays
// PENDING and the failure escalates.
func (e *Engine) compensate(ctx context.Context, entry *ledger.Entry, chargeID string, cause error, now time.Time) error {
	refundID, err := e.charger.Refund(ctx, chargeID, "paywall: "+cause.Error())
	if err != nil && !errors.Is(err, charge.ErrAlreadyRefunded) {
		return e.escalate(ctx, entry, chargeID, fmt.Errorf("refund after %v: %w", cause, err))
	}

	reason := fmt.Sprintf("refunded %s: %v", refundID, cause)
	failed, err := e.store.FailEntry(ctx, entry.ID, reason, chargeID, now)
	if err != nil {
		e.logger.Error("charge refunded but entry not settled",
			"entry_id", entry.ID.String(),
			"charge_id", chargeID,
			"refund_id", refundID,
			"error", err,
		)
		return cause
	}

	e.logger.Warn("charge compensated",
		"entry_id", entry.ID.String(),
		"charge_id", chargeID,
		"refund_id", refundID,
		"cause", cause,
	)
	e.plugins.EmitPaymentFailed(ctx, failed, cause)
	return cause
}

// escalate reports money collected without its entitlement. The entry
// stays PENDING so the reconciler can finish or compensate it.
func (e *Engine) escalate(ctx context.Context, entry *ledger.Entry, chargeID string, cause error) error {
	cerr := &CommitError{EntryID: entry.ID, ChargeID: chargeID, Err: cause}
	e.logger.Error("commit failed after successful charge",
		"entry_id", entry.ID.String(),
		"charge_id", chargeID,
		"kind", string(entry.Kind),
		"payer", entry.PayerUserID,
		"amount", entry.Amount.String(),
		"error", cause,
	)
	e.plugins.EmitCommitFailed(ctx, entry, chargeID, cause)
	return cerr
}

// afterCommit drops stale access decisions and notifies plugins.
func (e *Engine) afterCommit(ctx context.Context, entry *ledger.Entry, st *settlement) {
	if entry.Kind.GrantsEntitlement() {
		e.resolver.Invalidate(ctx, entry.PayerUserID)
	}

	switch {
	case st.sub != nil && entry.Metadata[metaRenewal] == "true":
		e.logger.Info("subscription renewed",
			"subscription_id", st.sub.ID.String(),
			"entry_id", entry.ID.String(),
			"expires_at", st.sub.ExpiresAt,
		)
		e.plugins.EmitSubscriptionRenewed(ctx, st.sub, entry)
	case st.sub != nil:
		e.logger.Info("subscription created",
			"subscription_id", st.sub.ID.String(),
			"entry_id", entry.ID.String(),
			"user_id", entry.PayerUserID,
			"creator_id", entry.PayeeCreatorID,
			"expires_at", st.sub.ExpiresAt,
		)
		e.plugins.EmitSubscribed(ctx, st.sub, entry)
	case st.purchase != nil:
		e.logger.Info("content unlocked",
			"purchase_id", st.purchase.ID.String(),
			"entry_id", entry.ID.String(),
			"content_id", st.purchase.ContentID,
		)
		e.plugins.EmitPurchased(ctx, st.purchase, entry)
	case entry.Kind == ledger.KindTip:
		e.logger.Info("tip received",
			"entry_id", entry.ID.String(),
			"creator_id", entry.PayeeCreatorID,
			"amount", entry.Amount.String(),
		)
		e.plugins.EmitTipped(ctx, entry)
	}
}

func parseEntryID(s string) (id.EntryID, error) {
	eid, err := id.ParseEntryID(s)
	if err != nil {
		return id.EntryID{}, ValidationError{Field: "entryId", Message: err.Error()}
	}
	return eid, nil
}
