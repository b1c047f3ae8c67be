package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mindgym/api/config"
	"github.com/mindgym/api/internal/database"
	"github.com/mindgym/api/internal/models"
	"github.com/mindgym/api/internal/services/email"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

var (
	// ErrPlanNotFound is returned when a checkout references an unknown plan
	ErrPlanNotFound = errors.New("plan not found")
	// ErrNoActiveSubscription is returned when a caller has no active subscription
	ErrNoActiveSubscription = errors.New("no active subscription")
)

type Service struct {
	db       *database.DB
	config   *config.Config
	provider Provider
	email    *email.Service
}

func NewService(db *database.DB, cfg *config.Config, provider Provider, emailSvc *email.Service) *Service {
	return &Service{
		db:       db,
		config:   cfg,
		provider: provider,
		email:    emailSvc,
	}
}

// MinorUnits converts a decimal currency amount to the smallest currency
// unit. Rounding is half away from zero so 4.995 becomes 500, never 499.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateCheckoutSession resolves plan pricing and opens a provider checkout
// session for the given caller. The identity comes straight from the
// authenticated request context; no user row is read. No local state is
// written here either; the subscription record is created only when the
// completed webhook confirms payment.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, userEmail string, planID string, period models.BillingPeriod, origin string) (string, string, error) {
	plan, err := s.db.GetPremiumPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrPlanNotFound
		}
		return "", "", err
	}

	interval := "month"
	if period == models.BillingPeriodYearly {
		interval = "year"
	}

	if origin == "" {
		origin = s.config.FrontendURL
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, &CheckoutParams{
		PlanName:      plan.Name,
		UnitAmount:    MinorUnits(plan.Price(period)),
		Interval:      interval,
		CustomerEmail: userEmail,
		SuccessURL:    origin + "/premium/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     origin + "/premium",
		// The webhook recovers all local context from this metadata; it must
		// always be set here.
		Metadata: map[string]string{
			"user_id":        userID.String(),
			"plan_id":        plan.ID,
			"billing_period": string(period),
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess.ID, sess.URL, nil
}

// VerifyWebhookSignature verifies and constructs a Stripe webhook event
func (s *Service) VerifyWebhookSignature(body []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(
		body,
		signature,
		s.config.StripeWebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify webhook signature: %w", err)
	}
	return &event, nil
}

// HandleEvent dispatches a verified webhook event to the appropriate handler
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	log.Printf("Processing Stripe event: event_id=%s event_type=%s", event.ID, event.Type)
	return s.applyEvent(ctx, event.ID, string(event.Type), event.Data.Raw)
}

func (s *Service) applyEvent(ctx context.Context, eventID, eventType string, raw json.RawMessage) error {
	switch eventType {
	case "checkout.session.completed":
		return s.handleCheckoutSessionCompleted(ctx, eventID, raw)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, eventID, raw)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, eventID, raw)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaymentSucceeded(ctx, eventID, raw)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(ctx, eventID, raw)
	default:
		// Acknowledge but don't act on event types we intentionally ignore
		log.Printf("Received unhandled Stripe event type: event_id=%s event_type=%s", eventID, eventType)
		return nil
	}
}

// handleCheckoutSessionCompleted creates the local subscription record and
// grants the premium entitlement. Both writes run in one transaction so a
// crash between them cannot leave a subscription without its entitlement.
func (s *Service) handleCheckoutSessionCompleted(ctx context.Context, eventID string, raw json.RawMessage) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session from webhook event: %w", err)
	}

	log.Printf("Processing checkout completion: event_id=%s session_id=%s", eventID, sess.ID)

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return fmt.Errorf("payment not completed: status %s", sess.PaymentStatus)
	}

	// Missing metadata indicates a checkout-initiation bug, not a transient
	// failure; fail loudly.
	userIDStr, ok := sess.Metadata["user_id"]
	if !ok {
		return fmt.Errorf("user_id not found in session metadata")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return fmt.Errorf("invalid user_id in session metadata: %w", err)
	}
	planID, ok := sess.Metadata["plan_id"]
	if !ok {
		return fmt.Errorf("plan_id not found in session metadata")
	}
	period := models.BillingPeriod(sess.Metadata["billing_period"])
	if !period.Valid() {
		return fmt.Errorf("invalid billing_period in session metadata: %q", sess.Metadata["billing_period"])
	}

	if sess.Subscription == nil {
		return fmt.Errorf("subscription not found in checkout session")
	}

	// The session payload carries only the subscription id; fetch the full
	// object for period bounds and customer id
	providerSub, err := s.provider.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", sess.Subscription.ID, err)
	}

	periodStart, periodEnd := subscriptionPeriod(providerSub)

	var customerID *string
	if providerSub.Customer != nil {
		customerID = stripe.String(providerSub.Customer.ID)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txDB := s.db.WithTx(tx)

	sub, created, err := txDB.CreateSubscription(ctx, &database.CreateSubscriptionParams{
		UserID:               userID,
		PlanID:               planID,
		BillingPeriod:        period,
		StripeSubscriptionID: providerSub.ID,
		StripeCustomerID:     customerID,
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	if !created {
		// Provider retry of an already-processed completion
		log.Printf("Subscription already exists: event_id=%s subscription_id=%s", eventID, providerSub.ID)
		return nil
	}

	if err := txDB.ActivateUserPremium(ctx, userID, planID); err != nil {
		return fmt.Errorf("failed to activate premium: %w", err)
	}

	if customerID != nil {
		if err := txDB.SetUserStripeCustomerID(ctx, userID, *customerID); err != nil {
			return fmt.Errorf("failed to store customer id: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Subscription created: event_id=%s subscription_id=%s user_id=%s plan=%s", eventID, sub.StripeSubscriptionID, userID, planID)

	// Update/delete/payment events that raced ahead of this completion were
	// parked; apply them now that the record exists.
	s.replayPendingEvents(ctx, providerSub.ID)

	if s.email != nil {
		user, err := s.db.GetUserByID(ctx, userID)
		if err == nil {
			if err := s.email.SendPremiumActivatedEmail(user.Email, planID); err != nil {
				log.Printf("Failed to send activation email: event_id=%s user_id=%s error=%v", eventID, userID, err)
			}
		}
	}

	return nil
}

// handleSubscriptionUpdated refreshes the local status and period bounds
func (s *Service) handleSubscriptionUpdated(ctx context.Context, eventID string, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription from webhook event: %w", err)
	}

	log.Printf("Processing subscription update: event_id=%s subscription_id=%s status=%s", eventID, sub.ID, sub.Status)

	periodStart, periodEnd := subscriptionPeriod(&sub)
	updated, err := s.db.UpdateSubscriptionPeriod(ctx, sub.ID, mapProviderStatus(sub.Status), periodStart, periodEnd)
	if err != nil {
		return err
	}
	if !updated {
		return s.parkEvent(ctx, eventID, sub.ID, "customer.subscription.updated", raw)
	}

	return nil
}

// handleSubscriptionDeleted marks the subscription cancelled and revokes the
// owner's premium entitlement in one transaction
func (s *Service) handleSubscriptionDeleted(ctx context.Context, eventID string, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription from webhook event: %w", err)
	}

	log.Printf("Processing subscription deletion: event_id=%s subscription_id=%s", eventID, sub.ID)

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txDB := s.db.WithTx(tx)

	cancelled, err := txDB.MarkSubscriptionCancelled(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Park outside the transaction so the insert survives its rollback
			tx.Rollback(ctx)
			return s.parkEvent(ctx, eventID, sub.ID, "customer.subscription.deleted", raw)
		}
		return err
	}

	if err := txDB.RevokeUserPremium(ctx, cancelled.UserID); err != nil {
		return fmt.Errorf("failed to revoke premium: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Subscription cancelled: event_id=%s subscription_id=%s user_id=%s", eventID, sub.ID, cancelled.UserID)
	return nil
}

// handleInvoicePaymentSucceeded stamps the payment and reactivates a
// past_due subscription
func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, eventID string, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("failed to unmarshal invoice from webhook event: %w", err)
	}

	subscriptionID := invoiceSubscriptionID(&inv)
	if subscriptionID == "" {
		// One-off invoice, not subscription-related
		log.Printf("Ignoring invoice without subscription: event_id=%s invoice_id=%s", eventID, inv.ID)
		return nil
	}

	sub, err := s.db.RecordSubscriptionPayment(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.parkEvent(ctx, eventID, subscriptionID, "invoice.payment_succeeded", raw)
		}
		return err
	}

	log.Printf("Payment recorded: event_id=%s subscription_id=%s user_id=%s", eventID, subscriptionID, sub.UserID)
	return nil
}

// handleInvoicePaymentFailed marks the subscription past_due. Whether the
// premium entitlement is revoked immediately is a config decision; the
// default keeps premium as a grace period until the provider gives up and
// cancels the subscription.
func (s *Service) handleInvoicePaymentFailed(ctx context.Context, eventID string, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("failed to unmarshal invoice from webhook event: %w", err)
	}

	subscriptionID := invoiceSubscriptionID(&inv)
	if subscriptionID == "" {
		log.Printf("Ignoring invoice without subscription: event_id=%s invoice_id=%s", eventID, inv.ID)
		return nil
	}

	sub, err := s.db.RecordSubscriptionPaymentFailure(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.parkEvent(ctx, eventID, subscriptionID, "invoice.payment_failed", raw)
		}
		return err
	}

	if s.config.PremiumRevokeOnPaymentFailure {
		if err := s.db.RevokeUserPremium(ctx, sub.UserID); err != nil {
			return fmt.Errorf("failed to revoke premium after payment failure: %w", err)
		}
	}

	log.Printf("Payment failure recorded: event_id=%s subscription_id=%s user_id=%s revoked=%t",
		eventID, subscriptionID, sub.UserID, s.config.PremiumRevokeOnPaymentFailure)

	if s.email != nil {
		user, err := s.db.GetUserByID(ctx, sub.UserID)
		if err == nil {
			if err := s.email.SendPaymentFailedEmail(user.Email); err != nil {
				log.Printf("Failed to send payment failure email: event_id=%s user_id=%s error=%v", eventID, sub.UserID, err)
			}
		}
	}

	return nil
}

// parkEvent stores an event that referenced an unknown subscription id so it
// can be replayed once checkout completion creates the record
func (s *Service) parkEvent(ctx context.Context, eventID, subscriptionID, eventType string, raw json.RawMessage) error {
	log.Printf("Parking out-of-order event: event_id=%s subscription_id=%s event_type=%s", eventID, subscriptionID, eventType)
	return s.db.CreatePendingSubscriptionEvent(ctx, subscriptionID, eventType, raw)
}

// replayPendingEvents applies parked events for a newly created subscription,
// oldest first. Replay failures are logged, not propagated: the subscription
// itself was created successfully and the reconciler covers residual drift.
func (s *Service) replayPendingEvents(ctx context.Context, subscriptionID string) {
	events, err := s.db.TakePendingSubscriptionEvents(ctx, subscriptionID)
	if err != nil {
		log.Printf("Failed to load pending events: subscription_id=%s error=%v", subscriptionID, err)
		return
	}

	for _, event := range events {
		replayID := "replay-" + event.ID.String()
		if err := s.applyEvent(ctx, replayID, event.EventType, event.Payload); err != nil {
			log.Printf("Failed to replay pending event: subscription_id=%s event_type=%s error=%v",
				subscriptionID, event.EventType, err)
		}
	}
}

// ActiveSubscriptionInfo returns the caller's subscription status
func (s *Service) ActiveSubscriptionInfo(ctx context.Context, userID uuid.UUID) (*models.SubscriptionStatusResponse, error) {
	sub, err := s.db.GetActiveSubscriptionForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.SubscriptionStatusResponse{HasActiveSubscription: false}, nil
		}
		return nil, err
	}

	return &models.SubscriptionStatusResponse{
		HasActiveSubscription: true,
		Subscription: &models.SubscriptionInfo{
			PlanID:           sub.PlanID,
			BillingPeriod:    sub.BillingPeriod,
			Status:           sub.Status,
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
		},
	}, nil
}

// CancelAtPeriodEnd instructs the provider to cancel the caller's active
// subscription at the end of the billing period. Local state is not mutated
// here; the resulting subscription.updated/deleted webhooks reflect the
// change.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, userID uuid.UUID) error {
	sub, err := s.db.GetActiveSubscriptionForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoActiveSubscription
		}
		return err
	}

	if _, err := s.provider.CancelSubscriptionAtPeriodEnd(ctx, sub.StripeSubscriptionID); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	return nil
}

// subscriptionPeriod extracts period bounds from the first subscription item
func subscriptionPeriod(sub *stripe.Subscription) (start, end time.Time) {
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		start = time.Unix(item.CurrentPeriodStart, 0)
		end = time.Unix(item.CurrentPeriodEnd, 0)
	}
	return start, end
}

// invoiceSubscriptionID returns the subscription id an invoice belongs to,
// or "" for one-off invoices
func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

// mapProviderStatus collapses the provider's status vocabulary onto the local
// one. Trialing counts as active; unpaid counts as past_due.
func mapProviderStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusCanceled:
		return models.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusPastDue
	default:
		return models.SubscriptionStatusActive
	}
}
