package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/subscription"
)

// CheckoutParams describes a checkout session to open with the provider.
// Prices are inline (unit_amount in minor units) because plan pricing lives in
// the local premium_plans table, not in the provider's product catalog.
type CheckoutParams struct {
	PlanName      string
	UnitAmount    int64
	Interval      string // "month" or "year"
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// Provider is the billing-provider surface the service depends on. The Stripe
// SDK keeps global client state configured once at startup; wrapping it lets
// both the checkout handler and the webhook synchronizer share one configured
// client, and lets tests substitute a fake.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}

type stripeProvider struct{}

// NewStripeProvider configures the global Stripe client and returns the
// production Provider.
func NewStripeProvider(secretKey string) Provider {
	stripe.Key = secretKey
	return &stripeProvider{}
}

func (p *stripeProvider) CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*stripe.CheckoutSession, error) {
	sessParams := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:    stripe.String(params.SuccessURL),
		CancelURL:     stripe.String(params.CancelURL),
		CustomerEmail: stripe.String(params.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(params.UnitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.PlanName),
					},
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(params.Interval),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: params.Metadata,
	}

	sess, err := session.New(sessParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess, nil
}

func (p *stripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription: %w", err)
	}
	return sub, nil
}

func (p *stripeProvider) CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return sub, nil
}
