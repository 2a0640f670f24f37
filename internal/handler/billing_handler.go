package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/internal/dto"
	"github.com/prohmpiriya/healthcare-educate/internal/middleware"
	"github.com/prohmpiriya/healthcare-educate/internal/service"
	"github.com/prohmpiriya/healthcare-educate/pkg/response"
)

// BillingHandler handles subscription and payment HTTP requests
type BillingHandler struct {
	billingService service.BillingService
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(billingService service.BillingService) *BillingHandler {
	return &BillingHandler{billingService: billingService}
}

// CreateCheckoutSession starts a hosted subscription checkout
// POST /api/payment/checkout/session
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
		return
	}

	var req dto.CreateCheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.billingService.CreateCheckoutSession(c.Request.Context(), userID, middleware.GetEmail(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(session))
}

// CreatePortalSession opens the self-service billing portal
// POST /api/payment/portal/session
func (h *BillingHandler) CreatePortalSession(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
		return
	}

	session, err := h.billingService.CreatePortalSession(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(session))
}

// GetSubscriptionStatus returns the user's most recent subscription
// GET /api/payment/subscription/status
func (h *BillingHandler) GetSubscriptionStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
		return
	}

	status, err := h.billingService.GetStatus(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(status))
}

// GetPaymentHistory lists the user's payments, newest first
// GET /api/payment/payments/history
func (h *BillingHandler) GetPaymentHistory(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
		return
	}

	history, err := h.billingService.GetPaymentHistory(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(history))
}

// PremiumAccess is reachable only through RequireActiveSubscription
// GET /api/premium/access
func (h *BillingHandler) PremiumAccess(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
		return
	}

	status, err := h.billingService.GetStatus(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.PremiumAccessResponse{Access: true, Status: domain.SubscriptionStatusActive}
	if status.Status != nil {
		resp.Status = *status.Status
	}
	c.JSON(http.StatusOK, response.Success(resp))
}
