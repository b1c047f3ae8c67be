package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mindgym/api/internal/database"
	"github.com/mindgym/api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

func stripeEvent(id, eventType string, raw json.RawMessage) *stripe.Event {
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func checkoutCompletedRaw(sessionID, subID, userID, planID, period string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"object":"checkout.session","payment_status":"paid","subscription":%q,"metadata":{"user_id":%q,"plan_id":%q,"billing_period":%q}}`,
		sessionID, subID, userID, planID, period,
	))
}

func subscriptionRaw(subID, status string, periodStart, periodEnd time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"object":"subscription","status":%q,"items":{"object":"list","data":[{"object":"subscription_item","current_period_start":%d,"current_period_end":%d}]}}`,
		subID, status, periodStart.Unix(), periodEnd.Unix(),
	))
}

func invoiceRaw(invoiceID, subID string) json.RawMessage {
	if subID == "" {
		return json.RawMessage(fmt.Sprintf(`{"id":%q,"object":"invoice"}`, invoiceID))
	}
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"object":"invoice","parent":{"type":"subscription_details","subscription_details":{"subscription":%q}}}`,
		invoiceID, subID,
	))
}

// completeCheckout drives a user through a paid checkout so later tests can
// exercise post-subscription events
func completeCheckout(t *testing.T, svc *Service, provider *fakeProvider, user *models.User, planID, subID string) {
	t.Helper()

	ctx := context.Background()
	provider.addSubscription(subID, "cus_"+randomString(14), time.Now(), time.Now().AddDate(0, 1, 0))

	raw := checkoutCompletedRaw("cs_"+randomString(14), subID, user.ID.String(), planID, "monthly")
	err := svc.HandleEvent(ctx, stripeEvent("evt_"+randomString(14), "checkout.session.completed", raw))
	require.NoError(t, err, "checkout completion should succeed")
}

func Test_MinorUnits(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{19.90, 1990},
		{9.99, 999},
		{99.00, 9900},
		{4.995, 500}, // rounds half away from zero
		{0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MinorUnits(tt.amount), "MinorUnits(%v)", tt.amount)
	}
}

func Test_CreateCheckoutSession(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	sessionID, sessionURL, err := svc.CreateCheckoutSession(ctx, user.ID, user.Email, "pro", models.BillingPeriodMonthly, "https://app.mindgym.test")
	require.NoError(t, err, "CreateCheckoutSession should not return an error")
	assert.Equal(t, provider.checkoutSession.ID, sessionID)
	assert.Equal(t, provider.checkoutSession.URL, sessionURL)

	params := provider.checkoutParams
	require.NotNil(t, params, "Provider should have been called")
	assert.Equal(t, int64(1990), params.UnitAmount, "Pro monthly price is 19.90")
	assert.Equal(t, "month", params.Interval)
	assert.Equal(t, "Pro", params.PlanName)
	assert.Equal(t, user.Email, params.CustomerEmail)
	assert.Equal(t, "https://app.mindgym.test/premium/success?session_id={CHECKOUT_SESSION_ID}", params.SuccessURL)
	assert.Equal(t, "https://app.mindgym.test/premium", params.CancelURL)

	assert.Equal(t, user.ID.String(), params.Metadata["user_id"], "Metadata must carry the user id")
	assert.Equal(t, "pro", params.Metadata["plan_id"])
	assert.Equal(t, "monthly", params.Metadata["billing_period"])
}

func Test_CreateCheckoutSession_YearlyAndOriginFallback(t *testing.T) {
	cfg := testConfig()
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, cfg, provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	_, _, err = svc.CreateCheckoutSession(ctx, user.ID, user.Email, "standard", models.BillingPeriodYearly, "")
	require.NoError(t, err)

	params := provider.checkoutParams
	require.NotNil(t, params)
	assert.Equal(t, int64(9900), params.UnitAmount, "Standard yearly price is 99.00")
	assert.Equal(t, "year", params.Interval)
	assert.Equal(t, cfg.FrontendURL+"/premium/success?session_id={CHECKOUT_SESSION_ID}", params.SuccessURL,
		"Empty origin should fall back to the configured frontend URL")
}

func Test_CreateCheckoutSession_PlanNotFound(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	_, _, err = svc.CreateCheckoutSession(ctx, user.ID, user.Email, "nonexistent", models.BillingPeriodMonthly, "")
	assert.ErrorIs(t, err, ErrPlanNotFound, "Unknown plan should return ErrPlanNotFound")
	assert.Nil(t, provider.checkoutParams, "Provider must not be called for an unknown plan")
}

func Test_HandleEvent_CheckoutSessionCompleted(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)
	customerID := "cus_" + randomString(14)
	periodStart := time.Now().Truncate(time.Second)
	periodEnd := periodStart.AddDate(0, 1, 0)
	provider.addSubscription(subID, customerID, periodStart, periodEnd)

	raw := checkoutCompletedRaw("cs_test_1", subID, user.ID.String(), "standard", "monthly")
	err = svc.HandleEvent(ctx, stripeEvent("evt_1", "checkout.session.completed", raw))
	require.NoError(t, err, "HandleEvent should not return an error")

	// Subscription record created from the provider's subscription
	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err, "Subscription record should exist")
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, "standard", sub.PlanID)
	assert.Equal(t, models.BillingPeriodMonthly, sub.BillingPeriod)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.WithinDuration(t, periodStart, sub.CurrentPeriodStart, time.Second)
	assert.WithinDuration(t, periodEnd, sub.CurrentPeriodEnd, time.Second)
	require.NotNil(t, sub.StripeCustomerID)
	assert.Equal(t, customerID, *sub.StripeCustomerID)

	// Entitlement granted in the same transaction
	updatedUser, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, updatedUser.IsPremium, "User should be premium after checkout")
	require.NotNil(t, updatedUser.PremiumPlan)
	assert.Equal(t, "standard", *updatedUser.PremiumPlan)
	require.NotNil(t, updatedUser.StripeCustomerID)
	assert.Equal(t, customerID, *updatedUser.StripeCustomerID)
}

func Test_HandleEvent_CheckoutSessionCompleted_Replay(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)
	provider.addSubscription(subID, "cus_"+randomString(14), time.Now(), time.Now().AddDate(0, 1, 0))

	raw := checkoutCompletedRaw("cs_test_1", subID, user.ID.String(), "standard", "monthly")

	require.NoError(t, svc.HandleEvent(ctx, stripeEvent("evt_1", "checkout.session.completed", raw)))

	// The provider retries with a fresh event id; processing must be a no-op
	require.NoError(t, svc.HandleEvent(ctx, stripeEvent("evt_2", "checkout.session.completed", raw)),
		"Replayed completion should not return an error")

	var count int
	err = db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM subscriptions WHERE stripe_subscription_id = $1", subID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "Replay must not create a second subscription")
}

func Test_HandleEvent_CheckoutSessionCompleted_Unpaid(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	raw := json.RawMessage(fmt.Sprintf(
		`{"id":"cs_test_1","object":"checkout.session","payment_status":"unpaid","subscription":"sub_x","metadata":{"user_id":%q,"plan_id":"standard","billing_period":"monthly"}}`,
		user.ID.String(),
	))

	err = svc.HandleEvent(ctx, stripeEvent("evt_1", "checkout.session.completed", raw))
	assert.Error(t, err, "Unpaid session should be rejected")

	updatedUser, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, updatedUser.IsPremium, "No entitlement should be granted for an unpaid session")
}

func Test_HandleEvent_SubscriptionUpdated(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)
	completeCheckout(t, svc, provider, user, "standard", subID)

	newStart := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
	newEnd := newStart.AddDate(0, 1, 0)
	raw := subscriptionRaw(subID, "past_due", newStart, newEnd)

	err = svc.HandleEvent(ctx, stripeEvent("evt_upd", "customer.subscription.updated", raw))
	require.NoError(t, err)

	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status, "Provider past_due should map to local past_due")
	assert.WithinDuration(t, newStart, sub.CurrentPeriodStart, time.Second, "Period start should be refreshed")
	assert.WithinDuration(t, newEnd, sub.CurrentPeriodEnd, time.Second, "Period end should be refreshed")
}

func Test_HandleEvent_SubscriptionDeleted(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)
	completeCheckout(t, svc, provider, user, "standard", subID)

	raw := subscriptionRaw(subID, "canceled", time.Now(), time.Now().AddDate(0, 1, 0))
	err = svc.HandleEvent(ctx, stripeEvent("evt_del", "customer.subscription.deleted", raw))
	require.NoError(t, err)

	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)

	updatedUser, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, updatedUser.IsPremium, "Premium should be revoked on deletion")
	assert.Nil(t, updatedUser.PremiumPlan)
	assert.NotNil(t, updatedUser.PremiumCancelledAt)
}

func Test_HandleEvent_InvoicePaymentFailed_GracePeriod(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)
	completeCheckout(t, svc, provider, user, "standard", subID)

	err = svc.HandleEvent(ctx, stripeEvent("evt_fail", "invoice.payment_failed", invoiceRaw("in_1", subID)))
	require.NoError(t, err)

	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.NotNil(t, sub.LastPaymentFailedAt)

	// Default policy: keep premium until the provider cancels
	updatedUser, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, updatedUser.IsPremium, "Default policy keeps premium on payment failure")
}

func Test_HandleEvent_InvoicePaymentFailed_RevokePolicy(t *testing.T) {
	cfg := testConfig()
	cfg.PremiumRevokeOnPaymentFailure = true

	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, cfg, provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)
	completeCheckout(t, svc, provider, user, "standard", subID)

	err = svc.HandleEvent(ctx, stripeEvent("evt_fail", "invoice.payment_failed", invoiceRaw("in_1", subID)))
	require.NoError(t, err)

	updatedUser, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, updatedUser.IsPremium, "Strict policy revokes premium on payment failure")
}

func Test_HandleEvent_InvoicePaymentSucceeded_Recovers(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)
	completeCheckout(t, svc, provider, user, "standard", subID)

	require.NoError(t, svc.HandleEvent(ctx, stripeEvent("evt_fail", "invoice.payment_failed", invoiceRaw("in_1", subID))))
	require.NoError(t, svc.HandleEvent(ctx, stripeEvent("evt_ok", "invoice.payment_succeeded", invoiceRaw("in_2", subID))))

	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status, "Successful renewal should reactivate the subscription")
	assert.NotNil(t, sub.LastPaymentAt)
}

func Test_HandleEvent_InvoiceWithoutSubscription(t *testing.T) {
	provider := newFakeProvider()
	svc, _, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	// One-off invoices carry no subscription and are ignored
	err := svc.HandleEvent(context.Background(), stripeEvent("evt_1", "invoice.payment_succeeded", invoiceRaw("in_1", "")))
	assert.NoError(t, err)

	err = svc.HandleEvent(context.Background(), stripeEvent("evt_2", "invoice.payment_failed", invoiceRaw("in_2", "")))
	assert.NoError(t, err)
}

func Test_HandleEvent_OutOfOrderUpdateReplayed(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)

	// The update arrives before the checkout completion has been processed
	newStart := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
	newEnd := newStart.AddDate(0, 1, 0)
	updateRaw := subscriptionRaw(subID, "active", newStart, newEnd)

	err = svc.HandleEvent(ctx, stripeEvent("evt_early", "customer.subscription.updated", updateRaw))
	require.NoError(t, err, "Out-of-order update should park, not fail")

	pending, err := countPendingEvents(ctx, db, subID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "Update should be parked for replay")

	// Checkout completion creates the record and replays the parked update
	provider.addSubscription(subID, "cus_"+randomString(14), time.Now(), time.Now().AddDate(0, 1, 0))
	raw := checkoutCompletedRaw("cs_test_1", subID, user.ID.String(), "standard", "monthly")
	require.NoError(t, svc.HandleEvent(ctx, stripeEvent("evt_done", "checkout.session.completed", raw)))

	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err)
	assert.WithinDuration(t, newStart, sub.CurrentPeriodStart, time.Second, "Replayed update should win over the checkout snapshot")
	assert.WithinDuration(t, newEnd, sub.CurrentPeriodEnd, time.Second)

	pending, err = countPendingEvents(ctx, db, subID)
	require.NoError(t, err)
	assert.Zero(t, pending, "Parked event should be consumed by the replay")
}

func Test_HandleEvent_OutOfOrderDeletionReplayed(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	subID := "sub_" + randomString(14)

	deleteRaw := subscriptionRaw(subID, "canceled", time.Now(), time.Now().AddDate(0, 1, 0))
	require.NoError(t, svc.HandleEvent(ctx, stripeEvent("evt_early", "customer.subscription.deleted", deleteRaw)),
		"Out-of-order deletion should park, not fail")

	provider.addSubscription(subID, "cus_"+randomString(14), time.Now(), time.Now().AddDate(0, 1, 0))
	raw := checkoutCompletedRaw("cs_test_1", subID, user.ID.String(), "standard", "monthly")
	require.NoError(t, svc.HandleEvent(ctx, stripeEvent("evt_done", "checkout.session.completed", raw)))

	// The replayed deletion cancels the freshly created subscription
	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)

	updatedUser, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, updatedUser.IsPremium, "Premium should end up revoked after the replayed deletion")
}

func Test_HandleEvent_UnknownType(t *testing.T) {
	provider := newFakeProvider()
	svc, _, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	err := svc.HandleEvent(context.Background(), stripeEvent("evt_1", "customer.created", json.RawMessage(`{"id":"cus_1"}`)))
	assert.NoError(t, err, "Unhandled event types are acknowledged without action")
}

func Test_ActiveSubscriptionInfo(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	info, err := svc.ActiveSubscriptionInfo(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, info.HasActiveSubscription, "No subscription yet")
	assert.Nil(t, info.Subscription)

	subID := "sub_" + randomString(14)
	completeCheckout(t, svc, provider, user, "pro", subID)

	info, err = svc.ActiveSubscriptionInfo(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, info.HasActiveSubscription)
	require.NotNil(t, info.Subscription)
	assert.Equal(t, "pro", info.Subscription.PlanID)
	assert.Equal(t, models.BillingPeriodMonthly, info.Subscription.BillingPeriod)
	assert.Equal(t, models.SubscriptionStatusActive, info.Subscription.Status)
}

func Test_CancelAtPeriodEnd(t *testing.T) {
	provider := newFakeProvider()
	svc, db, cleanup := setupService(t, testConfig(), provider)
	defer cleanup()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, randomEmail(), "password_hash")
	require.NoError(t, err)

	err = svc.CancelAtPeriodEnd(ctx, user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription, "Cancel without a subscription should fail")
	assert.Empty(t, provider.cancelledIDs, "Provider must not be called without a subscription")

	subID := "sub_" + randomString(14)
	completeCheckout(t, svc, provider, user, "standard", subID)

	err = svc.CancelAtPeriodEnd(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{subID}, provider.cancelledIDs, "Provider should cancel the active subscription")

	// Local state is untouched until the provider's webhook confirms
	sub, err := db.GetSubscriptionByStripeID(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func countPendingEvents(ctx context.Context, db *database.DB, subID string) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM pending_subscription_events WHERE stripe_subscription_id = $1", subID).Scan(&count)
	return count, err
}
