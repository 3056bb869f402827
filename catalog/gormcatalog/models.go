package gormcatalog

import "time"

// postRow maps the application's posts table. Visibility is derived:
// a free post is PUBLIC, a priced post is PAID, anything else is for
// subscribers.
type postRow struct {
	ID        string     `gorm:"primaryKey"`
	UserID    string     `gorm:"column:user_id;index"`
	IsFree    bool       `gorm:"column:is_free;default:true"`
	Price     int64      `gorm:"column:price;default:0"`
	Currency  string     `gorm:"column:currency;size:3"`
	MediaType string     `gorm:"column:media_type"`
	Enable    bool       `gorm:"column:enable;default:true"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	DeletedAt *time.Time `gorm:"column:deleted_at;index"`
}

func (postRow) TableName() string { return "posts" }

// messageRow maps the private_messages table. A message with a price is
// a paid message.
type messageRow struct {
	ID         string     `gorm:"primaryKey"`
	SenderID   string     `gorm:"column:sender_id;index"`
	ReceiverID string     `gorm:"column:receiver_id"`
	Price      int64      `gorm:"column:price;default:0"`
	Currency   string     `gorm:"column:currency;size:3"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	DeletedAt  *time.Time `gorm:"column:deleted_at;index"`
}

func (messageRow) TableName() string { return "private_messages" }

// creatorRow maps the subscription and payment columns of the users table.
type creatorRow struct {
	ID                     string `gorm:"primaryKey"`
	SubscriptionPrice      int64  `gorm:"column:subscription_price"`
	SubscriptionCurrency   string `gorm:"column:subscription_currency;size:3"`
	SubscriptionPeriodDays int    `gorm:"column:subscription_period_days"`
	SubscriptionEnable     bool   `gorm:"column:subscription_enable"`
	StripeCustomerID       string `gorm:"column:stripe_customer_id"`
	StripePaymentMethodID  string `gorm:"column:stripe_payment_method_id"`
	StripeAccountID        string `gorm:"column:stripe_account_id"`
}

func (creatorRow) TableName() string { return "users" }
