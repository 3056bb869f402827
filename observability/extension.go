// Package observability provides a metrics extension for paywall that
// records monetization event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/plugin"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnSubscribed           = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionRenewed  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
	_ plugin.OnPurchased            = (*MetricsExtension)(nil)
	_ plugin.OnTipped               = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed        = (*MetricsExtension)(nil)
	_ plugin.OnCommitFailed         = (*MetricsExtension)(nil)
	_ plugin.OnRefunded             = (*MetricsExtension)(nil)
	_ plugin.OnReconciled           = (*MetricsExtension)(nil)
	_ plugin.OnAccessResolved       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide monetization metrics.
// Register it as a paywall plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Subscription metrics
	SubscriptionCreated  Counter
	SubscriptionRenewed  Counter
	SubscriptionCanceled Counter

	// Purchase metrics
	PPVUnlocked         Counter
	PaidMessageUnlocked Counter
	TipsReceived        Counter
	PaymentAmount       Histogram

	// Payment metrics
	PaymentFailed  Counter
	CommitFailed   Counter
	Refunds        Counter
	EntryReconcile Counter

	// Access metrics
	AccessChecks  Counter
	AccessGranted Counter
	AccessDenied  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		SubscriptionCreated:  factory.Counter("paywall.subscription.created"),
		SubscriptionRenewed:  factory.Counter("paywall.subscription.renewed"),
		SubscriptionCanceled: factory.Counter("paywall.subscription.canceled"),

		PPVUnlocked:         factory.Counter("paywall.ppv.unlocked"),
		PaidMessageUnlocked: factory.Counter("paywall.paid_message.unlocked"),
		TipsReceived:        factory.Counter("paywall.tips.received"),
		PaymentAmount:       factory.Histogram("paywall.payment.amount_minor"),

		PaymentFailed:  factory.Counter("paywall.payment.failed"),
		CommitFailed:   factory.Counter("paywall.payment.commit_failed"),
		Refunds:        factory.Counter("paywall.payment.refunds"),
		EntryReconcile: factory.Counter("paywall.ledger.reconciled"),

		AccessChecks:  factory.Counter("paywall.access.checks"),
		AccessGranted: factory.Counter("paywall.access.granted"),
		AccessDenied:  factory.Counter("paywall.access.denied"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscribed implements plugin.OnSubscribed.
func (m *MetricsExtension) OnSubscribed(_ context.Context, _ *subscription.Subscription, entry *ledger.Entry) error {
	m.SubscriptionCreated.Inc()
	m.PaymentAmount.Observe(float64(entry.Amount.Amount))
	return nil
}

// OnSubscriptionRenewed implements plugin.OnSubscriptionRenewed.
func (m *MetricsExtension) OnSubscriptionRenewed(_ context.Context, _ *subscription.Subscription, entry *ledger.Entry) error {
	m.SubscriptionRenewed.Inc()
	m.PaymentAmount.Observe(float64(entry.Amount.Amount))
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Purchase and tip hooks
// ──────────────────────────────────────────────────

// OnPurchased implements plugin.OnPurchased.
func (m *MetricsExtension) OnPurchased(_ context.Context, p *purchase.Purchase, _ *ledger.Entry) error {
	if p.ContentType == purchase.ContentMessage {
		m.PaidMessageUnlocked.Inc()
	} else {
		m.PPVUnlocked.Inc()
	}
	m.PaymentAmount.Observe(float64(p.Amount.Amount))
	return nil
}

// OnTipped implements plugin.OnTipped.
func (m *MetricsExtension) OnTipped(_ context.Context, entry *ledger.Entry) error {
	m.TipsReceived.Inc()
	m.PaymentAmount.Observe(float64(entry.Amount.Amount))
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ *ledger.Entry, _ error) error {
	m.PaymentFailed.Inc()
	return nil
}

// OnCommitFailed implements plugin.OnCommitFailed.
func (m *MetricsExtension) OnCommitFailed(_ context.Context, _ *ledger.Entry, _ string, _ error) error {
	m.CommitFailed.Inc()
	return nil
}

// OnRefunded implements plugin.OnRefunded.
func (m *MetricsExtension) OnRefunded(_ context.Context, _, _ *ledger.Entry) error {
	m.Refunds.Inc()
	return nil
}

// OnReconciled implements plugin.OnReconciled.
func (m *MetricsExtension) OnReconciled(_ context.Context, _ *ledger.Entry) error {
	m.EntryReconcile.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessResolved implements plugin.OnAccessResolved.
func (m *MetricsExtension) OnAccessResolved(_ context.Context, _, _ string, d entitlement.Decision) error {
	m.AccessChecks.Inc()
	if d.Granted {
		m.AccessGranted.Inc()
	} else {
		m.AccessDenied.Inc()
	}
	return nil
}
