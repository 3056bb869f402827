package subscription

import (
	"errors"
	"time"

	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/types"
)

var (
	ErrNotFound        = errors.New("paywall: subscription not found")
	ErrDuplicateActive = errors.New("paywall: already subscribed")
	ErrNoActive        = errors.New("paywall: no active subscription")
	ErrCanceled        = errors.New("paywall: subscription is canceled")
)

// Status is the stored lifecycle state. EXPIRED is also derived lazily by
// StatusAt, so a stored ACTIVE row past its expiry reads as EXPIRED.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Day is the unit subscription periods are counted in.
const Day = 24 * time.Hour

// Subscription grants a fan access to a creator's SUBSCRIBERS-tier content
// until ExpiresAt.
type Subscription struct {
	types.Entity
	ID         id.SubscriptionID `json:"id"`
	UserID     string            `json:"user_id"`
	CreatorID  string            `json:"creator_id"`
	Status     Status            `json:"status"`
	Price      types.Money       `json:"price"`
	StartedAt  time.Time         `json:"started_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CanceledAt *time.Time        `json:"canceled_at,omitempty"`
}

// New builds an ACTIVE subscription running durationDays from now.
func New(userID, creatorID string, durationDays int, now time.Time) *Subscription {
	now = now.UTC()
	return &Subscription{
		Entity:    types.NewEntity(now),
		ID:        id.NewSubscriptionID(),
		UserID:    userID,
		CreatorID: creatorID,
		Status:    StatusActive,
		StartedAt: now,
		ExpiresAt: now.Add(time.Duration(durationDays) * Day),
	}
}

// IsActiveAt reports whether the subscription grants access at now.
// Cancelled subscriptions keep access until they expire.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// StatusAt returns the effective status at now.
func (s *Subscription) StatusAt(now time.Time) Status {
	if !s.IsActiveAt(now) {
		return StatusExpired
	}
	return s.Status
}

// IsLive reports whether the stored status still takes part in the
// one-per-pair uniqueness rule.
func (s *Subscription) IsLive() bool {
	return s.Status == StatusActive || s.Status == StatusCancelled
}

// MarkCancelled flags the subscription as cancelled without touching
// ExpiresAt. It reports false if it was already cancelled.
func (s *Subscription) MarkCancelled(now time.Time) bool {
	if s.Status == StatusCancelled {
		return false
	}
	at := now.UTC()
	s.Status = StatusCancelled
	s.CanceledAt = &at
	s.Touch(now)
	return true
}

// MarkExpired demotes a stale live record.
func (s *Subscription) MarkExpired(now time.Time) {
	s.Status = StatusExpired
	s.Touch(now)
}

// Extend pushes ExpiresAt out by extension counted from max(now, ExpiresAt).
// A record that has run out, cancelled or not, becomes ACTIVE again.
func (s *Subscription) Extend(extension time.Duration, now time.Time) {
	if s.StatusAt(now) == StatusExpired {
		s.Status = StatusActive
		s.CanceledAt = nil
	}
	s.ExpiresAt = RenewedExpiry(s.ExpiresAt, extension, now)
	s.Touch(now)
}

// CheckRenewable returns ErrCanceled while a cancelled subscription is
// still running. Once it has run out it may be renewed again.
func (s *Subscription) CheckRenewable(now time.Time) error {
	if s.StatusAt(now) == StatusCancelled {
		return ErrCanceled
	}
	return nil
}

// RenewedExpiry returns the expiry after stacking extension onto current.
func RenewedExpiry(current time.Time, extension time.Duration, now time.Time) time.Time {
	base := current
	if now.After(base) {
		base = now
	}
	return base.Add(extension).UTC()
}

// View is the caller-facing subscription shape.
type View struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatorID string    `json:"creatorId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// View returns the caller-facing shape.
func (s *Subscription) View() View {
	return View{
		ID:        s.ID.String(),
		UserID:    s.UserID,
		CreatorID: s.CreatorID,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}
}
