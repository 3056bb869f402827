// Package audithook bridges paywall monetization events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/plugin"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnSubscribed           = (*Extension)(nil)
	_ plugin.OnSubscriptionRenewed  = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
	_ plugin.OnPurchased            = (*Extension)(nil)
	_ plugin.OnTipped               = (*Extension)(nil)
	_ plugin.OnPaymentFailed        = (*Extension)(nil)
	_ plugin.OnCommitFailed         = (*Extension)(nil)
	_ plugin.OnRefunded             = (*Extension)(nil)
	_ plugin.OnReconciled           = (*Extension)(nil)
	_ plugin.OnAccessResolved       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to a structured logger. Failures and
// errors log at warn and error, everything else at info.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityError, SeverityCritical:
			level = slog.LevelError
		}
		attrs := []any{
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"actor_id", evt.ActorID,
			"category", evt.Category,
			"outcome", evt.Outcome,
		}
		if evt.Reason != "" {
			attrs = append(attrs, "reason", evt.Reason)
		}
		if len(evt.Metadata) > 0 {
			attrs = append(attrs, "metadata", evt.Metadata)
		}
		logger.Log(ctx, level, "audit", attrs...)
		return nil
	})
}

// Extension bridges paywall events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscribed implements plugin.OnSubscribed.
func (e *Extension) OnSubscribed(ctx context.Context, sub *subscription.Subscription, entry *ledger.Entry) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), sub.UserID, CategorySubscription, nil,
		"creator_id", sub.CreatorID,
		"entry_id", entry.ID.String(),
		"amount", entry.Amount.String(),
		"expires_at", sub.ExpiresAt,
	)
}

// OnSubscriptionRenewed implements plugin.OnSubscriptionRenewed.
func (e *Extension) OnSubscriptionRenewed(ctx context.Context, sub *subscription.Subscription, entry *ledger.Entry) error {
	return e.record(ctx, ActionSubscriptionRenewed, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), sub.UserID, CategorySubscription, nil,
		"creator_id", sub.CreatorID,
		"entry_id", entry.ID.String(),
		"amount", entry.Amount.String(),
		"expires_at", sub.ExpiresAt,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), sub.UserID, CategorySubscription, nil,
		"creator_id", sub.CreatorID,
		"access_until", sub.ExpiresAt,
	)
}

// ──────────────────────────────────────────────────
// Purchase and tip hooks
// ──────────────────────────────────────────────────

// OnPurchased implements plugin.OnPurchased.
func (e *Extension) OnPurchased(ctx context.Context, p *purchase.Purchase, entry *ledger.Entry) error {
	return e.record(ctx, ActionContentUnlocked, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, p.ID.String(), p.UserID, CategoryPurchase, nil,
		"content_id", p.ContentID,
		"content_type", string(p.ContentType),
		"entry_id", entry.ID.String(),
		"amount", p.Amount.String(),
	)
}

// OnTipped implements plugin.OnTipped.
func (e *Extension) OnTipped(ctx context.Context, entry *ledger.Entry) error {
	return e.record(ctx, ActionTipSent, SeverityInfo, OutcomeSuccess,
		ResourceEntry, entry.ID.String(), entry.PayerUserID, CategoryPurchase, nil,
		"creator_id", entry.PayeeCreatorID,
		"amount", entry.Amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, entry *ledger.Entry, err error) error {
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourceEntry, entry.ID.String(), entry.PayerUserID, CategoryPayment, err,
		"kind", string(entry.Kind),
		"creator_id", entry.PayeeCreatorID,
		"amount", entry.Amount.String(),
		"failure_reason", entry.FailureReason,
	)
}

// OnCommitFailed implements plugin.OnCommitFailed.
func (e *Extension) OnCommitFailed(ctx context.Context, entry *ledger.Entry, chargeID string, err error) error {
	return e.record(ctx, ActionCommitFailed, SeverityCritical, OutcomeFailure,
		ResourceEntry, entry.ID.String(), entry.PayerUserID, CategoryPayment, err,
		"kind", string(entry.Kind),
		"charge_id", chargeID,
		"amount", entry.Amount.String(),
	)
}

// OnRefunded implements plugin.OnRefunded.
func (e *Extension) OnRefunded(ctx context.Context, refund, original *ledger.Entry) error {
	return e.record(ctx, ActionPaymentRefunded, SeverityWarning, OutcomeSuccess,
		ResourceEntry, original.ID.String(), original.PayerUserID, CategoryPayment, nil,
		"refund_entry_id", refund.ID.String(),
		"refund_status", string(refund.Status),
		"amount", refund.Amount.String(),
	)
}

// OnReconciled implements plugin.OnReconciled.
func (e *Extension) OnReconciled(ctx context.Context, entry *ledger.Entry) error {
	return e.record(ctx, ActionEntryReconciled, SeverityInfo, OutcomeSuccess,
		ResourceEntry, entry.ID.String(), entry.PayerUserID, CategoryPayment, nil,
		"kind", string(entry.Kind),
		"status", string(entry.Status),
	)
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessResolved implements plugin.OnAccessResolved. Only denials are
// recorded to keep the trail small.
func (e *Extension) OnAccessResolved(ctx context.Context, viewerID, contentID string, d entitlement.Decision) error {
	if d.Granted {
		return nil
	}
	return e.record(ctx, ActionAccessDenied, SeverityInfo, OutcomeFailure,
		ResourceContent, contentID, viewerID, CategoryAccess, nil,
		"reason", string(d.Reason),
		"visibility", string(d.Visibility),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, actorID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		ActorID:    actorID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
