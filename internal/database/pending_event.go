package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mindgym/api/internal/models"
)

// defaultPendingEventTTL bounds how long an out-of-order event is kept before
// it is dropped as stale.
const defaultPendingEventTTL = 24 * time.Hour

// CreatePendingSubscriptionEvent parks a webhook event that arrived before
// the subscription it references was created locally
func (db *DB) CreatePendingSubscriptionEvent(ctx context.Context, stripeSubscriptionID, eventType string, payload []byte) error {
	query := `
		INSERT INTO pending_subscription_events
		(stripe_subscription_id, event_type, payload, expires_at)
		VALUES ($1, $2, $3, $4)
	`

	expiresAt := time.Now().Add(defaultPendingEventTTL)
	_, err := db.Pool.Exec(ctx, query, stripeSubscriptionID, eventType, payload, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to park pending subscription event: %w", err)
	}

	return nil
}

// TakePendingSubscriptionEvents removes and returns all unexpired parked
// events for a subscription id, oldest first. Deleting on read means each
// parked event is replayed at most once.
func (db *DB) TakePendingSubscriptionEvents(ctx context.Context, stripeSubscriptionID string) ([]models.PendingSubscriptionEvent, error) {
	query := `
		DELETE FROM pending_subscription_events
		WHERE stripe_subscription_id = $1 AND expires_at > NOW()
		RETURNING id, stripe_subscription_id, event_type, payload, created_at, expires_at
	`

	rows, err := db.Pool.Query(ctx, query, stripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to take pending subscription events: %w", err)
	}
	defer rows.Close()

	var events []models.PendingSubscriptionEvent
	for rows.Next() {
		var event models.PendingSubscriptionEvent
		if err := rows.Scan(
			&event.ID,
			&event.StripeSubscriptionID,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
			&event.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending subscription event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DELETE ... RETURNING has no ORDER BY; replay oldest first
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	return events, nil
}

// DeleteExpiredPendingEvents removes parked events past their expiry
func (db *DB) DeleteExpiredPendingEvents(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM pending_subscription_events WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pending events: %w", err)
	}

	return tag.RowsAffected(), nil
}
