package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/purchase"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

// ==================== Subscription models ====================

type subscriptionModel struct {
	ID            string     `bson:"_id"`
	UserID        string     `bson:"user_id"`
	CreatorID     string     `bson:"creator_id"`
	Status        string     `bson:"status"`
	PriceAmount   int64      `bson:"price_amount"`
	PriceCurrency string     `bson:"price_currency"`
	StartedAt     time.Time  `bson:"started_at"`
	ExpiresAt     time.Time  `bson:"expires_at"`
	CanceledAt    *time.Time `bson:"canceled_at,omitempty"`
	// Live is only stored while the record takes part in the one-per-pair
	// rule. The unique index is partial on it.
	Live      bool      `bson:"live,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:            s.ID.String(),
		UserID:        s.UserID,
		CreatorID:     s.CreatorID,
		Status:        string(s.Status),
		PriceAmount:   s.Price.Amount,
		PriceCurrency: s.Price.Currency,
		StartedAt:     s.StartedAt,
		ExpiresAt:     s.ExpiresAt,
		CanceledAt:    s.CanceledAt,
		Live:          s.IsLive(),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("paywall/mongo: subscription id %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:         subID,
		UserID:     m.UserID,
		CreatorID:  m.CreatorID,
		Status:     subscription.Status(m.Status),
		Price:      types.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		StartedAt:  m.StartedAt.UTC(),
		ExpiresAt:  m.ExpiresAt.UTC(),
		CanceledAt: utcPtr(m.CanceledAt),
	}, nil
}

// ==================== Purchase models ====================

type purchaseModel struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	ContentID   string    `bson:"content_id"`
	ContentType string    `bson:"content_type"`
	Amount      int64     `bson:"amount"`
	Currency    string    `bson:"currency"`
	EntryID     string    `bson:"entry_id,omitempty"`
	PurchasedAt time.Time `bson:"purchased_at"`
}

func toPurchaseModel(p *purchase.Purchase) *purchaseModel {
	m := &purchaseModel{
		ID:          p.ID.String(),
		UserID:      p.UserID,
		ContentID:   p.ContentID,
		ContentType: string(p.ContentType),
		Amount:      p.Amount.Amount,
		Currency:    p.Amount.Currency,
		PurchasedAt: p.PurchasedAt,
	}
	if !p.EntryID.IsNil() {
		m.EntryID = p.EntryID.String()
	}
	return m
}

func fromPurchaseModel(m *purchaseModel) (*purchase.Purchase, error) {
	purID, err := id.ParsePurchaseID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("paywall/mongo: purchase id %q: %w", m.ID, err)
	}
	p := &purchase.Purchase{
		ID:          purID,
		UserID:      m.UserID,
		ContentID:   m.ContentID,
		ContentType: purchase.ContentType(m.ContentType),
		Amount:      types.Money{Amount: m.Amount, Currency: m.Currency},
		PurchasedAt: m.PurchasedAt.UTC(),
	}
	if m.EntryID != "" {
		if p.EntryID, err = id.ParseEntryID(m.EntryID); err != nil {
			return nil, fmt.Errorf("paywall/mongo: purchase entry id %q: %w", m.EntryID, err)
		}
	}
	return p, nil
}

// ==================== Entry models ====================

type entryModel struct {
	ID              string `bson:"_id"`
	PayerUserID     string `bson:"payer_user_id"`
	PayeeCreatorID  string `bson:"payee_creator_id"`
	Amount          int64  `bson:"amount"`
	Currency        string `bson:"currency"`
	Kind            string `bson:"kind"`
	Status          string `bson:"status"`
	RelatedEntityID string `bson:"related_entity_id"`
	ChargeID        string `bson:"charge_id"`
	IdempotencyKey  string `bson:"idempotency_key,omitempty"`
	LockKey         string `bson:"lock_key"`
	// PendingLock mirrors LockKey while the entry is PENDING and is unset
	// on settlement, which releases the partial unique index.
	PendingLock   string            `bson:"pending_lock,omitempty"`
	FailureReason string            `bson:"failure_reason"`
	RefundOf      string            `bson:"refund_of,omitempty"`
	LiveRefundOf  string            `bson:"live_refund_of,omitempty"` // RefundOf until the refund fails
	Metadata      map[string]string `bson:"metadata,omitempty"`
	CreatedAt     time.Time         `bson:"created_at"`
	SettledAt     *time.Time        `bson:"settled_at,omitempty"`
}

func toEntryModel(e *ledger.Entry) *entryModel {
	m := &entryModel{
		ID:              e.ID.String(),
		PayerUserID:     e.PayerUserID,
		PayeeCreatorID:  e.PayeeCreatorID,
		Amount:          e.Amount.Amount,
		Currency:        e.Amount.Currency,
		Kind:            string(e.Kind),
		Status:          string(e.Status),
		RelatedEntityID: e.RelatedEntityID,
		ChargeID:        e.ChargeID,
		IdempotencyKey:  e.IdempotencyKey,
		LockKey:         e.LockKey,
		FailureReason:   e.FailureReason,
		Metadata:        e.Metadata,
		CreatedAt:       e.CreatedAt,
		SettledAt:       e.SettledAt,
	}
	if e.Status == ledger.StatusPending {
		m.PendingLock = e.LockKey
	}
	if !e.RefundOf.IsNil() {
		m.RefundOf = e.RefundOf.String()
		if e.Status != ledger.StatusFailed {
			m.LiveRefundOf = m.RefundOf
		}
	}
	return m
}

func fromEntryModel(m *entryModel) (*ledger.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("paywall/mongo: entry id %q: %w", m.ID, err)
	}
	e := &ledger.Entry{
		ID:              entryID,
		PayerUserID:     m.PayerUserID,
		PayeeCreatorID:  m.PayeeCreatorID,
		Amount:          types.Money{Amount: m.Amount, Currency: m.Currency},
		Kind:            ledger.Kind(m.Kind),
		Status:          ledger.Status(m.Status),
		RelatedEntityID: m.RelatedEntityID,
		ChargeID:        m.ChargeID,
		IdempotencyKey:  m.IdempotencyKey,
		LockKey:         m.LockKey,
		FailureReason:   m.FailureReason,
		Metadata:        m.Metadata,
		CreatedAt:       m.CreatedAt.UTC(),
		SettledAt:       utcPtr(m.SettledAt),
	}
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	if m.RefundOf != "" {
		if e.RefundOf, err = id.ParseEntryID(m.RefundOf); err != nil {
			return nil, fmt.Errorf("paywall/mongo: refund_of %q: %w", m.RefundOf, err)
		}
	}
	return e, nil
}

// totalModel is one $group result of SumEntries.
type totalModel struct {
	Key struct {
		Kind     string `bson:"kind"`
		Currency string `bson:"currency"`
	} `bson:"_id"`
	Amount int64 `bson:"amount"`
	Count  int64 `bson:"count"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
