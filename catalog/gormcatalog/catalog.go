// Package gormcatalog reads content and creator terms from the
// application's relational schema through GORM.
package gormcatalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xraph/paywall/catalog"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/types"
)

// ErrUserNotFound is returned by PaymentProfile for an unknown user.
var ErrUserNotFound = errors.New("gormcatalog: user not found")

// PaymentProfile holds a user's card processor references.
type PaymentProfile struct {
	CustomerID      string
	PaymentMethodID string
	// AccountID is the connected account that receives a creator's payouts.
	AccountID string
}

// Catalog implements catalog.Catalog over a *gorm.DB.
type Catalog struct {
	db       *gorm.DB
	currency string
}

var _ catalog.Catalog = (*Catalog)(nil)

// Option configures a Catalog.
type Option func(*Catalog)

// WithCurrency sets the currency used for rows that leave it blank.
func WithCurrency(currency string) Option {
	return func(c *Catalog) { c.currency = currency }
}

// New wraps an open connection.
func New(db *gorm.DB, opts ...Option) *Catalog {
	c := &Catalog{db: db, currency: "usd"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenPostgres connects to the application database.
func OpenPostgres(dsn string, opts ...Option) (*Catalog, error) {
	return open(postgres.Open(dsn), opts...)
}

// OpenSQLite opens a SQLite database, for development and tests.
func OpenSQLite(path string, opts ...Option) (*Catalog, error) {
	return open(sqlite.Open(path), opts...)
}

func open(dialector gorm.Dialector, opts ...Option) (*Catalog, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormcatalog: connect: %w", err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying connection.
func (c *Catalog) DB() *gorm.DB { return c.db }

// Migrate creates the tables the catalog reads. Production schemas are
// owned by the application; this is for development databases.
func (c *Catalog) Migrate(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(&postRow{}, &messageRow{}, &creatorRow{})
}

// Content implements catalog.Catalog.
func (c *Catalog) Content(ctx context.Context, contentID string) (*content.Content, error) {
	var row postRow
	err := c.db.WithContext(ctx).
		Where("id = ? AND enable = ? AND deleted_at IS NULL", contentID, true).
		First(&row).Error
	if err != nil {
		return nil, c.mapErr(err, catalog.ErrContentNotFound, contentID)
	}

	visibility := content.VisibilitySubscribers
	var price *types.Money
	switch {
	case row.IsFree:
		visibility = content.VisibilityPublic
	case row.Price > 0:
		visibility = content.VisibilityPaid
		p := types.New(row.Price, c.currencyOr(row.Currency))
		price = &p
	}

	out := content.Post(row.ID, row.UserID, visibility, price)
	out.MediaType = row.MediaType
	out.CreatedAt = row.CreatedAt
	return out, nil
}

// Message implements catalog.Catalog.
func (c *Catalog) Message(ctx context.Context, messageID string) (*content.Content, error) {
	var row messageRow
	err := c.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", messageID).
		First(&row).Error
	if err != nil {
		return nil, c.mapErr(err, catalog.ErrContentNotFound, messageID)
	}

	var price *types.Money
	if row.Price > 0 {
		p := types.New(row.Price, c.currencyOr(row.Currency))
		price = &p
	}
	out := content.Message(row.ID, row.SenderID, price)
	out.CreatedAt = row.CreatedAt
	return out, nil
}

// Terms implements catalog.Catalog.
func (c *Catalog) Terms(ctx context.Context, creatorID string) (catalog.Terms, error) {
	var row creatorRow
	if err := c.db.WithContext(ctx).Where("id = ?", creatorID).First(&row).Error; err != nil {
		return catalog.Terms{}, c.mapErr(err, catalog.ErrCreatorNotFound, creatorID)
	}

	period := row.SubscriptionPeriodDays
	if period <= 0 {
		period = catalog.DefaultPeriodDays
	}
	return catalog.Terms{
		Price:      types.New(row.SubscriptionPrice, c.currencyOr(row.SubscriptionCurrency)),
		PeriodDays: period,
		Enabled:    row.SubscriptionEnable,
	}, nil
}

// PaymentProfile returns the stored processor references for userID.
func (c *Catalog) PaymentProfile(ctx context.Context, userID string) (PaymentProfile, error) {
	var row creatorRow
	err := c.db.WithContext(ctx).
		Select("id", "stripe_customer_id", "stripe_payment_method_id", "stripe_account_id").
		Where("id = ?", userID).
		First(&row).Error
	if err != nil {
		return PaymentProfile{}, c.mapErr(err, ErrUserNotFound, userID)
	}
	return PaymentProfile{
		CustomerID:      row.StripeCustomerID,
		PaymentMethodID: row.StripePaymentMethodID,
		AccountID:       row.StripeAccountID,
	}, nil
}

func (c *Catalog) currencyOr(currency string) string {
	if currency == "" {
		return c.currency
	}
	return currency
}

func (c *Catalog) mapErr(err, notFound error, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", notFound, key)
	}
	return fmt.Errorf("gormcatalog: %w", err)
}
