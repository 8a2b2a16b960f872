package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
)

func handleError(c *gin.Context, err error) {
	var validationErr *errors.ValidationError
	var stockErr *errors.InsufficientStockError
	var gatewayErr *errors.GatewayError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Message,
			"field": validationErr.Field,
		})
	case errors.Is(err, errors.ErrAuthenticationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment authentication failed"})
	case errors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.Is(err, errors.ErrGatewayTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "payment gateway timeout"})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "payment gateway error",
			"code":  gatewayErr.Code,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
