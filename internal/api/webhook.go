package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mindgym/api/internal/database"
	"github.com/mindgym/api/internal/models"
	"github.com/mindgym/api/internal/services/billing"
)

type WebhookHandler struct {
	db             *database.DB
	billingService *billing.Service
}

func NewWebhookHandler(db *database.DB, billingSvc *billing.Service) *WebhookHandler {
	return &WebhookHandler{
		db:             db,
		billingService: billingSvc,
	}
}

// HandleStripeWebhook processes Stripe webhook events. Signature
// verification runs before anything else touches the payload or the
// database. Once an event is dispatched the response is 200 even if the
// handler failed internally: the failure is logged and recorded, and
// retrying a permanently-broken event would only produce retry storms. The
// entitlement reconciler repairs any resulting drift.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("webhook_error=read_body error=%v", err)
		c.String(http.StatusBadRequest, "failed to read request body")
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		log.Printf("webhook_error=missing_signature")
		c.String(http.StatusBadRequest, "missing signature header")
		return
	}

	event, err := h.billingService.VerifyWebhookSignature(body, signature)
	if err != nil {
		log.Printf("webhook_error=invalid_signature error=%v", err)
		c.String(http.StatusBadRequest, "invalid signature")
		return
	}

	log.Printf("webhook_received event_id=%s event_type=%s", event.ID, event.Type)

	// Deduplicate on the provider's event id
	existingEvent, err := h.db.GetStripeWebhookEvent(c.Request.Context(), event.ID)
	if err == nil && existingEvent != nil {
		if existingEvent.Status == models.WebhookStatusCompleted {
			log.Printf("webhook_duplicate event_id=%s (already processed successfully)", event.ID)
			c.JSON(http.StatusOK, gin.H{"status": "received"})
			return
		}
		// Event previously failed, allow retry
		log.Printf("webhook_retry event_id=%s (retrying after previous failure)", event.ID)
	}

	status := models.WebhookStatusCompleted
	var errMsg *string

	if err := h.billingService.HandleEvent(c.Request.Context(), event); err != nil {
		msg := err.Error()
		status = models.WebhookStatusFailed
		errMsg = &msg
		log.Printf("webhook_error=processing_failed event_id=%s event_type=%s error=%v", event.ID, event.Type, err)
	}

	if _, err := h.db.RecordStripeWebhookEvent(
		c.Request.Context(),
		event.ID,
		string(event.Type),
		status,
		errMsg,
	); err != nil {
		// Don't fail the response even if we can't record it
		log.Printf("webhook_error=record_event event_id=%s error=%v", event.ID, err)
	}

	log.Printf("webhook_processed event_id=%s event_type=%s status=%s", event.ID, event.Type, status)
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
