package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// StageDraft handles POST /api/v2/orders/draft
func (h *Handlers) StageDraft(c *gin.Context) {
	var req models.StageDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.draftService.StageDraft(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetDraft handles GET /api/v2/orders/draft?user=<id>
func (h *Handlers) GetDraft(c *gin.Context) {
	order, err := h.draftService.GetDraft(c.Request.Context(), c.Query("user"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
