package models

import (
	"time"

	"github.com/google/uuid"
)

type WebhookStatus string

const (
	WebhookStatusCompleted WebhookStatus = "completed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// StripeWebhookEvent records a processed provider event for deduplication.
type StripeWebhookEvent struct {
	ID            uuid.UUID     `json:"id"`
	StripeEventID string        `json:"stripe_event_id"`
	EventType     string        `json:"event_type"`
	Status        WebhookStatus `json:"status"`
	ErrorMessage  *string       `json:"error_message,omitempty"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PendingSubscriptionEvent parks a webhook event that referenced a
// subscription id not yet known locally. The provider may deliver
// customer.subscription.updated before checkout.session.completed has been
// processed; parked events are replayed once the subscription record exists.
type PendingSubscriptionEvent struct {
	ID                   uuid.UUID `json:"id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	EventType            string    `json:"event_type"`
	Payload              []byte    `json:"payload"`
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
}
