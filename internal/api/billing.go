package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mindgym/api/config"
	"github.com/mindgym/api/internal/api/middleware"
	"github.com/mindgym/api/internal/database"
	"github.com/mindgym/api/internal/models"
	"github.com/mindgym/api/internal/services/billing"
)

type BillingHandler struct {
	db             *database.DB
	config         *config.Config
	billingService *billing.Service
}

func NewBillingHandler(db *database.DB, cfg *config.Config, billingSvc *billing.Service) *BillingHandler {
	return &BillingHandler{
		db:             db,
		config:         cfg,
		billingService: billingSvc,
	}
}

// CheckoutRequest is the request body for creating a checkout session
type CheckoutRequest struct {
	PlanID        string               `json:"plan_id" binding:"required"`
	BillingPeriod models.BillingPeriod `json:"billing_period" binding:"required,oneof=monthly yearly"`
}

// CheckoutResponse is the response for creating a checkout session
type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// ListPlans returns all premium plans
func (h *BillingHandler) ListPlans(c *gin.Context) {
	plans, err := h.db.ListPremiumPlans(c.Request.Context())
	if err != nil {
		log.Printf("failed to list plans: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list plans"})
		return
	}

	if plans == nil {
		plans = []models.PremiumPlan{}
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// CreateCheckoutSession opens a provider checkout session for the requested
// plan and billing period
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	userIDStr := middleware.GetUserID(c)
	if userIDStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID"})
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	origin := c.GetHeader("Origin")

	sessionID, checkoutURL, err := h.billingService.CreateCheckoutSession(
		c.Request.Context(),
		userID,
		middleware.GetUserEmail(c),
		req.PlanID,
		req.BillingPeriod,
		origin,
	)
	if err != nil {
		if errors.Is(err, billing.ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
			return
		}
		// Provider errors are logged server-side only; callers get a generic
		// failure.
		log.Printf("failed to create checkout session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{
		SessionID:   sessionID,
		CheckoutURL: checkoutURL,
	})
}

// GetSubscription returns the caller's subscription status
func (h *BillingHandler) GetSubscription(c *gin.Context) {
	userIDStr := middleware.GetUserID(c)
	if userIDStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID"})
		return
	}

	info, err := h.billingService.ActiveSubscriptionInfo(c.Request.Context(), userID)
	if err != nil {
		log.Printf("failed to get subscription info: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get subscription"})
		return
	}

	c.JSON(http.StatusOK, info)
}

// CancelSubscription cancels the caller's subscription at period end. Local
// state is updated when the provider's webhook confirms the change.
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	userIDStr := middleware.GetUserID(c)
	if userIDStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID"})
		return
	}

	if err := h.billingService.CancelAtPeriodEnd(c.Request.Context(), userID); err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
			return
		}
		log.Printf("failed to cancel subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Subscription will be cancelled at the end of the billing period",
	})
}
