package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListOrderHistory handles GET /api/v2/orders/history?user=<id>
func (h *Handlers) ListOrderHistory(c *gin.Context) {
	orders, err := h.historyService.ListOrderHistory(c.Request.Context(), c.Query("user"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}
