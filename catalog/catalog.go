// Package catalog looks up the content and creator terms that the
// surrounding application owns. paywall reads them; it never writes them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/types"
)

// DefaultPeriodDays is the subscription period when a creator sets none.
const DefaultPeriodDays = 30

var (
	ErrContentNotFound = errors.New("catalog: content not found")
	ErrCreatorNotFound = errors.New("catalog: creator not found")
)

// Terms are a creator's subscription conditions.
type Terms struct {
	Price      types.Money `json:"price"`
	PeriodDays int         `json:"period_days"`
	// Enabled is false when the creator does not accept subscribers.
	Enabled bool `json:"enabled"`
}

// Validate reports whether the terms can back a paid subscription.
func (t Terms) Validate() error {
	if !t.Price.IsPositive() {
		return fmt.Errorf("catalog: subscription price must be positive, got %s", t.Price)
	}
	if t.PeriodDays <= 0 {
		return fmt.Errorf("catalog: subscription period must be positive, got %d days", t.PeriodDays)
	}
	return nil
}

// Catalog resolves content descriptors and creator terms.
type Catalog interface {
	// Content returns a post by ID.
	Content(ctx context.Context, contentID string) (*content.Content, error)
	// Message returns a direct message by ID.
	Message(ctx context.Context, messageID string) (*content.Content, error)
	// Terms returns a creator's subscription terms.
	Terms(ctx context.Context, creatorID string) (Terms, error)
}

// Static is an in-memory Catalog. It is safe for concurrent use.
type Static struct {
	mu       sync.RWMutex
	posts    map[string]*content.Content
	messages map[string]*content.Content
	terms    map[string]Terms
}

var _ Catalog = (*Static)(nil)

// NewStatic returns an empty Static catalog.
func NewStatic() *Static {
	return &Static{
		posts:    make(map[string]*content.Content),
		messages: make(map[string]*content.Content),
		terms:    make(map[string]Terms),
	}
}

// AddContent registers a post or message, keyed by its kind.
func (s *Static) AddContent(c *content.Content) error {
	if err := c.Validate(); err != nil {
		return err
	}
	cp := *c
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.KindOrDefault() == content.KindMessage {
		s.messages[cp.ID] = &cp
	} else {
		s.posts[cp.ID] = &cp
	}
	return nil
}

// SetTerms sets a creator's subscription terms. A zero period uses
// DefaultPeriodDays.
func (s *Static) SetTerms(creatorID string, t Terms) {
	if t.PeriodDays == 0 {
		t.PeriodDays = DefaultPeriodDays
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[creatorID] = t
}

// Content implements Catalog.
func (s *Static) Content(_ context.Context, contentID string) (*content.Content, error) {
	return s.lookup(s.posts, contentID)
}

// Message implements Catalog.
func (s *Static) Message(_ context.Context, messageID string) (*content.Content, error) {
	return s.lookup(s.messages, messageID)
}

func (s *Static) lookup(m map[string]*content.Content, key string) (*content.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, key)
	}
	cp := *c
	return &cp, nil
}

// Terms implements Catalog.
func (s *Static) Terms(_ context.Context, creatorID string) (Terms, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terms[creatorID]
	if !ok {
		return Terms{}, fmt.Errorf("%w: %s", ErrCreatorNotFound, creatorID)
	}
	return t, nil
}
