package paywall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/paywall/charge"
	"github.com/xraph/paywall/ledger"
)

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Scanned     int `json:"scanned"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Compensated int `json:"compensated"`
	// StillPending entries had no final charge outcome yet.
	StillPending int        `json:"still_pending"`
	Errors       MultiError `json:"-"`
}

type reconcileOutcome int

const (
	outcomePending reconcileOutcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeCompensated
)

// ReconcilePending settles PENDING entries older than the reconcile delay:
// charges that timed out, commits that ran out of retries and refunds that
// never finished. Each entry is looked up by its idempotency key and then
// completed, failed or compensated.
func (e *Engine) ReconcilePending(ctx context.Context, now time.Time) (*ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "paywall.ReconcilePending")
	var err error
	defer func() { endSpan(span, err) }()

	var entries []*ledger.Entry
	entries, err = e.store.ListEntries(ctx, ledger.ListOpts{
		Status:        ledger.StatusPending,
		CreatedBefore: now.Add(-e.reconcileAfter),
		Limit:         e.reconcileBatch,
	})
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Scanned: len(entries)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.reconcileConcurrency)
	for _, entry := range entries {
		g.Go(func() error {
			outcome, rerr := e.reconcileEntry(gctx, entry, now)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeCompleted:
				report.Completed++
			case outcomeFailed:
				report.Failed++
			case outcomeCompensated:
				report.Compensated++
			default:
				report.StillPending++
			}
			report.Errors.Add(rerr)
			// One entry never stops the pass.
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers collect errors into the report

	if report.Scanned > 0 {
		e.logger.Info("reconciled pending entries",
			"scanned", report.Scanned,
			"completed", report.Completed,
			"failed", report.Failed,
			"compensated", report.Compensated,
			"still_pending", report.StillPending,
			"errors", len(report.Errors.Errors),
		)
	}
	return report, nil
}

func (e *Engine) reconcileEntry(ctx context.Context, entry *ledger.Entry, now time.Time) (reconcileOutcome, error) {
	if entry.Kind == ledger.KindRefund {
		return e.reconcileRefund(ctx, entry, now)
	}

	res, err := e.charger.Lookup(ctx, entry.ID.String())
	switch {
	case errors.Is(err, charge.ErrNotFound):
		res = &charge.Result{Status: charge.StatusFailed, FailureReason: "charge was not created"}
	case err != nil:
		return outcomePending, fmt.Errorf("lookup %s: %w", entry.ID, err)
	}

	switch res.Status {
	case charge.StatusPending:
		return outcomePending, nil
	case charge.StatusFailed:
		reason := res.FailureReason
		if reason == "" {
			reason = "declined"
		}
		failed, err := e.store.FailEntry(ctx, entry.ID, reason, res.ChargeID, now)
		if err != nil {
			return outcomePending, fmt.Errorf("fail %s: %w", entry.ID, err)
		}
		e.plugins.EmitPaymentFailed(ctx, failed, &PaymentError{EntryID: entry.ID, Reason: reason, Err: ErrChargeFailed})
		e.plugins.EmitReconciled(ctx, failed)
		return outcomeFailed, nil
	}

	_, err = e.settle(ctx, entry, res.ChargeID, now)
	switch {
	case err == nil:
		e.plugins.EmitReconciled(ctx, entry)
		return outcomeCompleted, nil
	case isCommitConflict(err):
		e.plugins.EmitReconciled(ctx, entry)
		return outcomeCompensated, nil
	}
	return outcomePending, err
}

// reconcileRefund retries a refund whose processor call or commit did not
// finish. Processors answer a repeated refund with the original reference.
func (e *Engine) reconcileRefund(ctx context.Context, entry *ledger.Entry, now time.Time) (reconcileOutcome, error) {
	original, err := e.store.GetEntry(ctx, entry.RefundOf)
	if err != nil {
		return outcomePending, fmt.Errorf("refund %s: original: %w", entry.ID, err)
	}

	refundID, err := e.charger.Refund(ctx, original.ChargeID, entry.Metadata[metaReason])
	if err != nil && !errors.Is(err, charge.ErrAlreadyRefunded) {
		return outcomePending, fmt.Errorf("refund %s: %w", entry.ID, err)
	}
	if _, err := e.settle(ctx, entry, refundID, now); err != nil {
		return outcomePending, err
	}
	e.plugins.EmitRefunded(ctx, entry, original)
	e.plugins.EmitReconciled(ctx, entry)
	return outcomeCompleted, nil
}

// reconcileWorker runs ReconcilePending on an interval until Stop.
func (e *Engine) reconcileWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			report, err := e.ReconcilePending(ctx, t)
			if err != nil {
				e.logger.Error("reconcile pass failed", "error", err)
				continue
			}
			if report.Errors.HasErrors() {
				e.logger.Warn("reconcile pass left errors",
					"errors", len(report.Errors.Errors),
					"first", report.Errors.First(),
				)
			}
		}
	}
}
