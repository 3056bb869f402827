package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionCreated  = "subscription.created"
	ActionSubscriptionRenewed  = "subscription.renewed"
	ActionSubscriptionCanceled = "subscription.canceled"

	// Purchase actions
	ActionContentUnlocked = "content.unlocked"
	ActionTipSent         = "tip.sent"

	// Payment actions
	ActionPaymentFailed   = "payment.failed"
	ActionCommitFailed    = "payment.commit_failed"
	ActionPaymentRefunded = "payment.refunded"
	ActionEntryReconciled = "ledger.reconciled"

	// Access actions
	ActionAccessDenied = "access.denied"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourcePurchase     = "purchase"
	ResourceEntry        = "ledger_entry"
	ResourceContent      = "content"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryPurchase     = "purchase"
	CategoryAccess       = "access"
	CategoryPayment      = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
