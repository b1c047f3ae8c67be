package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mindgym/api/config"
	"github.com/mindgym/api/internal/api/middleware"
	"github.com/mindgym/api/internal/database"
	"github.com/mindgym/api/internal/services/auth"
	"github.com/mindgym/api/internal/services/billing"
	"github.com/mindgym/api/internal/services/email"
)

type Handlers struct {
	Config         *config.Config
	AuthHandler    *AuthHandler
	BillingHandler *BillingHandler
	WebhookHandler *WebhookHandler
}

func NewHandlers(db *database.DB, cfg *config.Config, provider billing.Provider) *Handlers {
	authService := auth.NewService(db, cfg)
	emailService := email.NewService(cfg)
	billingService := billing.NewService(db, cfg, provider, emailService)

	return &Handlers{
		Config:         cfg,
		AuthHandler:    NewAuthHandler(authService),
		BillingHandler: NewBillingHandler(db, cfg, billingService),
		WebhookHandler: NewWebhookHandler(db, billingService),
	}
}

// RegisterRoutes registers all API routes
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "healthy",
		})
	})

	// Auth routes (public)
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", h.AuthHandler.Register)
		authRoutes.POST("/login", h.AuthHandler.Login)
		authRoutes.POST("/logout", h.AuthHandler.Logout)
		authRoutes.POST("/refresh", h.AuthHandler.RefreshToken)
	}

	// Plan catalog (public, read-only)
	r.GET("/plans", h.BillingHandler.ListPlans)

	// Protected routes
	protected := r.Group("")
	protected.Use(middleware.AuthMiddleware(h.Config.JWTSecret))
	{
		protected.GET("/me", h.AuthHandler.GetProfile)
		protected.POST("/auth/logout-all", h.AuthHandler.LogoutAll)

		protected.POST("/billing/checkout", h.BillingHandler.CreateCheckoutSession)
		protected.GET("/billing/subscription", h.BillingHandler.GetSubscription)
		protected.POST("/billing/subscription/cancel", h.BillingHandler.CancelSubscription)
	}

	// Stripe webhook (public, signature verified)
	r.POST("/webhooks/stripe", h.WebhookHandler.HandleStripeWebhook)
}
