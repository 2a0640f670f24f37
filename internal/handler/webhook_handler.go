package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/internal/service"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
)

// StripeSignatureHeader carries the webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// maxWebhookBodyBytes caps the webhook body
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler receives payment provider webhooks
type WebhookHandler struct {
	webhookService service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// HandleStripeWebhook verifies the raw body and applies the event.
// Anything past signature verification is acknowledged with 200.
// POST /api/webhooks/stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	log := logger.Get().WithContext(c.Request.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Warn("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	result, err := h.webhookService.HandleInboundEvent(c.Request.Context(), payload, c.GetHeader(StripeSignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			log.Warn("Rejected webhook with invalid signature", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}
		log.Error("Webhook handling failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": result.Outcome})
}
