package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mindgym/api/internal/models"
)

// GetStripeWebhookEvent retrieves a webhook event record by Stripe event ID
func (db *DB) GetStripeWebhookEvent(ctx context.Context, stripeEventID string) (*models.StripeWebhookEvent, error) {
	query := `
		SELECT id, stripe_event_id, event_type, status, error_message, processed_at, created_at
		FROM stripe_webhook_events
		WHERE stripe_event_id = $1
	`

	row := db.Pool.QueryRow(ctx, query, stripeEventID)
	event := &models.StripeWebhookEvent{}

	err := row.Scan(
		&event.ID, &event.StripeEventID, &event.EventType, &event.Status,
		&event.ErrorMessage, &event.ProcessedAt, &event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stripe webhook event: %w", err)
	}

	return event, nil
}

// RecordStripeWebhookEvent upserts the processing outcome for a provider
// event id. Re-recording an event (a retry after failure) overwrites the
// previous status.
func (db *DB) RecordStripeWebhookEvent(
	ctx context.Context,
	stripeEventID string,
	eventType string,
	status models.WebhookStatus,
	errorMessage *string,
) (*uuid.UUID, error) {
	var id uuid.UUID

	query := `
		INSERT INTO stripe_webhook_events
		(stripe_event_id, event_type, status, error_message, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (stripe_event_id) DO UPDATE
		SET status = EXCLUDED.status,
		    error_message = EXCLUDED.error_message,
		    processed_at = NOW()
		RETURNING id
	`

	err := db.Pool.QueryRow(ctx, query, stripeEventID, eventType, status, errorMessage).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to record stripe webhook event: %w", err)
	}

	return &id, nil
}
