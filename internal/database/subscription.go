package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mindgym/api/internal/models"
)

const subscriptionColumns = `id, user_id, plan_id, billing_period, stripe_subscription_id,
	stripe_customer_id, status, current_period_start, current_period_end,
	last_payment_at, last_payment_failed_at, cancelled_at, created_at, updated_at`

func scanSubscription(row interface{ Scan(dest ...any) error }) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.BillingPeriod,
		&sub.StripeSubscriptionID,
		&sub.StripeCustomerID,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.LastPaymentAt,
		&sub.LastPaymentFailedAt,
		&sub.CancelledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

type CreateSubscriptionParams struct {
	UserID               uuid.UUID
	PlanID               string
	BillingPeriod        models.BillingPeriod
	StripeSubscriptionID string
	StripeCustomerID     *string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
}

// CreateSubscription inserts a subscription record. The unique constraint on
// stripe_subscription_id makes this idempotent: replaying the same checkout
// completion returns the existing record with created=false instead of
// inserting a duplicate.
func (db *DB) CreateSubscription(ctx context.Context, params *CreateSubscriptionParams) (*models.Subscription, bool, error) {
	query := `
		INSERT INTO subscriptions
		(user_id, plan_id, billing_period, stripe_subscription_id, stripe_customer_id,
		 status, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, 'active', $6, $7)
		ON CONFLICT (stripe_subscription_id) DO NOTHING
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query,
		params.UserID,
		params.PlanID,
		params.BillingPeriod,
		params.StripeSubscriptionID,
		params.StripeCustomerID,
		params.CurrentPeriodStart,
		params.CurrentPeriodEnd,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict path: record already exists for this external id
			existing, err := db.GetSubscriptionByStripeID(ctx, params.StripeSubscriptionID)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create subscription: %w", err)
	}

	return sub, true, nil
}

// GetSubscriptionByStripeID retrieves a subscription by the provider's subscription id
func (db *DB) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, stripeSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("subscription not found: %w", err)
	}

	return sub, nil
}

// GetActiveSubscriptionForUser returns the user's most recent active subscription
func (db *DB) GetActiveSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("subscription not found: %w", err)
	}

	return sub, nil
}

// UpdateSubscriptionPeriod refreshes the status and billing period bounds of a
// subscription. Returns false if no record exists for the given external id.
func (db *DB) UpdateSubscriptionPeriod(ctx context.Context, stripeSubscriptionID string, status models.SubscriptionStatus, periodStart, periodEnd time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = $2,
		    current_period_start = $3,
		    current_period_end = $4,
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`

	tag, err := db.Pool.Exec(ctx, query, stripeSubscriptionID, status, periodStart, periodEnd)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription period: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkSubscriptionCancelled sets the subscription to cancelled and stamps
// cancelled_at, returning the updated record
func (db *DB) MarkSubscriptionCancelled(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'cancelled',
		    cancelled_at = NOW(),
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, stripeSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("subscription not found: %w", err)
	}

	return sub, nil
}

// RecordSubscriptionPayment stamps a successful payment and reactivates the
// subscription (a renewal after past_due recovers the account)
func (db *DB) RecordSubscriptionPayment(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'active',
		    last_payment_at = NOW(),
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, stripeSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("subscription not found: %w", err)
	}

	return sub, nil
}

// RecordSubscriptionPaymentFailure stamps a failed payment and marks the
// subscription past_due, returning the updated record
func (db *DB) RecordSubscriptionPaymentFailure(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'past_due',
		    last_payment_failed_at = NOW(),
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, stripeSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("subscription not found: %w", err)
	}

	return sub, nil
}

// EntitlementDrift describes a user whose premium flag disagrees with their
// subscription state.
type EntitlementDrift struct {
	UserID       uuid.UUID
	IsPremium    bool
	ActivePlanID *string
}

// ListEntitlementDrift finds users whose is_premium flag disagrees with
// whether they hold an active (or tolerated past_due) subscription. The
// webhook handler writes subscriptions and users separately; this query feeds
// the reconciler that repairs any gap between the two writes.
func (db *DB) ListEntitlementDrift(ctx context.Context, pastDueKeepsPremium bool, limit int) ([]EntitlementDrift, error) {
	statuses := []string{string(models.SubscriptionStatusActive)}
	if pastDueKeepsPremium {
		statuses = append(statuses, string(models.SubscriptionStatusPastDue))
	}

	query := `
		SELECT u.id, u.is_premium, s.plan_id
		FROM users u
		LEFT JOIN LATERAL (
			SELECT plan_id
			FROM subscriptions
			WHERE user_id = u.id AND status = ANY($1)
			ORDER BY created_at DESC
			LIMIT 1
		) s ON true
		WHERE u.is_premium != (s.plan_id IS NOT NULL)
		LIMIT $2
	`

	rows, err := db.Pool.Query(ctx, query, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlement drift: %w", err)
	}
	defer rows.Close()

	var drifts []EntitlementDrift
	for rows.Next() {
		var d EntitlementDrift
		if err := rows.Scan(&d.UserID, &d.IsPremium, &d.ActivePlanID); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement drift: %w", err)
		}
		drifts = append(drifts, d)
	}

	return drifts, rows.Err()
}
