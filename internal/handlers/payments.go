package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// HeaderGatewaySignature carries the callback signature on webhook deliveries.
const HeaderGatewaySignature = "X-Gateway-Signature"

// InitiatePayment handles POST /api/v2/payments/initiate
func (h *Handlers) InitiatePayment(c *gin.Context) {
	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.paymentService.InitiatePayment(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyPayment handles POST /api/v2/payments/verify
func (h *Handlers) VerifyPayment(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	h.verify(c, &req)
}

// PaymentWebhook handles POST /api/v2/webhooks/payment. The signature may be
// sent in the body or in the X-Gateway-Signature header.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind webhook", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Signature == "" {
		req.Signature = c.GetHeader(HeaderGatewaySignature)
	}

	h.verify(c, &req)
}

func (h *Handlers) verify(c *gin.Context, req *models.VerifyPaymentRequest) {
	order, err := h.paymentService.VerifyPayment(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
