package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
)

type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// Valid reports whether the billing period is one of the known values.
func (p BillingPeriod) Valid() bool {
	return p == BillingPeriodMonthly || p == BillingPeriodYearly
}

// Subscription mirrors an external recurring-billing agreement. At most one
// record exists per stripe_subscription_id; all updates after creation target
// that record.
type Subscription struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	PlanID               string             `json:"plan_id"`
	BillingPeriod        BillingPeriod      `json:"billing_period"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripeCustomerID     *string            `json:"stripe_customer_id,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	LastPaymentAt        *time.Time         `json:"last_payment_at,omitempty"`
	LastPaymentFailedAt  *time.Time         `json:"last_payment_failed_at,omitempty"`
	CancelledAt          *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// SubscriptionInfo is the caller-facing view of an active subscription.
type SubscriptionInfo struct {
	PlanID           string             `json:"plan_id"`
	BillingPeriod    BillingPeriod      `json:"billing_period"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
}

// SubscriptionStatusResponse is the response for the subscription query endpoint.
type SubscriptionStatusResponse struct {
	HasActiveSubscription bool              `json:"has_active_subscription"`
	Subscription          *SubscriptionInfo `json:"subscription,omitempty"`
}
