package stripecharge

import (
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// API is the slice of the Stripe API the charger uses.
type API interface {
	CreatePaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	// SearchPaymentIntents returns every match of the search query.
	SearchPaymentIntents(params *stripe.PaymentIntentSearchParams) ([]*stripe.PaymentIntent, error)
	CreateRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type clientAPI struct {
	sc *client.API
}

// NewAPI returns an API backed by a Stripe client for the secret key.
func NewAPI(key string) API {
	return &clientAPI{sc: client.New(key, nil)}
}

func (c *clientAPI) CreatePaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return c.sc.PaymentIntents.New(params)
}

func (c *clientAPI) SearchPaymentIntents(params *stripe.PaymentIntentSearchParams) ([]*stripe.PaymentIntent, error) {
	iter := c.sc.PaymentIntents.Search(params)
	var out []*stripe.PaymentIntent
	for iter.Next() {
		out = append(out, iter.PaymentIntent())
	}
	return out, iter.Err()
}

func (c *clientAPI) CreateRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return c.sc.Refunds.New(params)
}
