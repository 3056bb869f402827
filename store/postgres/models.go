package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

const (
	subscriptionsTable = "paywall_subscriptions"
	purchasesTable     = "paywall_purchases"
	entriesTable       = "paywall_entries"

	// Unique index names, used to tell conflicts apart.
	idxSubscriptionLive = "paywall_subscriptions_live"
	idxPurchaseUnique   = "paywall_purchases_user_content"
	idxEntryIdempotency = "paywall_entries_idempotency"
	idxEntryPendingLock = "paywall_entries_pending_lock"
	idxEntryRefundOf    = "paywall_entries_refund_of"

	liveStatuses        = "('ACTIVE', 'CANCELLED')"
	subscriptionColumns = "id, user_id, creator_id, status, price_amount, price_currency, started_at, expires_at, canceled_at, created_at, updated_at"
	purchaseColumns     = "id, user_id, content_id, content_type, amount, currency, entry_id, purchased_at"
	entryColumns        = "id, payer_user_id, payee_creator_id, amount, currency, kind, status, related_entity_id, charge_id, idempotency_key, lock_key, failure_reason, refund_of, metadata, created_at, settled_at"
)

// ==================== Subscription rows ====================

func subscriptionArgs(s *subscription.Subscription) []any {
	return []any{
		s.ID.String(),
		s.UserID,
		s.CreatorID,
		string(s.Status),
		s.Price.Amount,
		s.Price.Currency,
		s.StartedAt,
		s.ExpiresAt,
		s.CanceledAt,
		s.CreatedAt,
		s.UpdatedAt,
	}
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		s        subscription.Subscription
		rawID    string
		status   string
		currency string
	)
	err := row.Scan(
		&rawID,
		&s.UserID,
		&s.CreatorID,
		&status,
		&s.Price.Amount,
		&currency,
		&s.StartedAt,
		&s.ExpiresAt,
		&s.CanceledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	subID, err := id.ParseSubscriptionID(rawID)
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: subscription id %q: %w", rawID, err)
	}
	s.ID = subID
	s.Status = subscription.Status(status)
	s.Price.Currency = currency
	s.StartedAt = s.StartedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.CanceledAt = utcPtr(s.CanceledAt)
	return &s, nil
}

// ==================== Purchase rows ====================

func purchaseArgs(p *purchase.Purchase) []any {
	return []any{
		p.ID.String(),
		p.UserID,
		p.ContentID,
		string(p.ContentType),
		p.Amount.Amount,
		p.Amount.Currency,
		nullableID(p.EntryID),
		p.PurchasedAt,
	}
}

func scanPurchase(row pgx.Row) (*purchase.Purchase, error) {
	var (
		p           purchase.Purchase
		rawID       string
		contentType string
		currency    string
		entryID     *string
	)
	err := row.Scan(
		&rawID,
		&p.UserID,
		&p.ContentID,
		&contentType,
		&p.Amount.Amount,
		&currency,
		&entryID,
		&p.PurchasedAt,
	)
	if err != nil {
		return nil, err
	}

	purID, err := id.ParsePurchaseID(rawID)
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: purchase id %q: %w", rawID, err)
	}
	p.ID = purID
	p.ContentType = purchase.ContentType(contentType)
	p.Amount.Currency = currency
	p.PurchasedAt = p.PurchasedAt.UTC()
	if entryID != nil {
		if p.EntryID, err = id.ParseEntryID(*entryID); err != nil {
			return nil, fmt.Errorf("paywall/postgres: purchase entry id %q: %w", *entryID, err)
		}
	}
	return &p, nil
}

// ==================== Entry rows ====================

func entryArgs(e *ledger.Entry) ([]any, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: encode metadata: %w", err)
	}
	return []any{
		e.ID.String(),
		e.PayerUserID,
		e.PayeeCreatorID,
		e.Amount.Amount,
		e.Amount.Currency,
		string(e.Kind),
		string(e.Status),
		e.RelatedEntityID,
		e.ChargeID,
		e.IdempotencyKey,
		e.LockKey,
		e.FailureReason,
		nullableID(e.RefundOf),
		rawMeta,
		e.CreatedAt,
		e.SettledAt,
	}, nil
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e        ledger.Entry
		rawID    string
		currency string
		kind     string
		status   string
		refundOf *string
		rawMeta  []byte
	)
	err := row.Scan(
		&rawID,
		&e.PayerUserID,
		&e.PayeeCreatorID,
		&e.Amount.Amount,
		&currency,
		&kind,
		&status,
		&e.RelatedEntityID,
		&e.ChargeID,
		&e.IdempotencyKey,
		&e.LockKey,
		&e.FailureReason,
		&refundOf,
		&rawMeta,
		&e.CreatedAt,
		&e.SettledAt,
	)
	if err != nil {
		return nil, err
	}

	entryID, err := id.ParseEntryID(rawID)
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: entry id %q: %w", rawID, err)
	}
	e.ID = entryID
	e.Amount = types.New(e.Amount.Amount, currency)
	e.Kind = ledger.Kind(kind)
	e.Status = ledger.Status(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.SettledAt = utcPtr(e.SettledAt)
	if refundOf != nil {
		if e.RefundOf, err = id.ParseEntryID(*refundOf); err != nil {
			return nil, fmt.Errorf("paywall/postgres: refund_of %q: %w", *refundOf, err)
		}
	}
	e.Metadata = map[string]string{}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("paywall/postgres: decode metadata of %s: %w", rawID, err)
		}
	}
	return &e, nil
}

// ==================== Helpers ====================

func nullableID(i id.ID) *string {
	if i.IsNil() {
		return nil
	}
	s := i.String()
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
