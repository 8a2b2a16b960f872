package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

var maxDiscountPercent = decimal.NewFromInt(100)

// ValidateStageDraftRequest validates a draft staging request. The address is
// not required yet; a draft may be staged before checkout details are known.
func ValidateStageDraftRequest(req *models.StageDraftRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.NewValidationError("user", "user ID is required")
	}

	if err := validateItems(req.Items); err != nil {
		return err
	}

	if req.ItemsPrice == nil {
		return errors.NewValidationError("items_price", "items price is required")
	}
	if req.ItemsPrice.IsNegative() {
		return errors.NewValidationError("items_price", "items price cannot be negative")
	}

	return nil
}

// ValidateInitiatePaymentRequest validates a payment initiation request.
// A shipping price of zero is valid; a missing one is not.
func ValidateInitiatePaymentRequest(req *models.InitiatePaymentRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.NewValidationError("user", "user ID is required")
	}

	if req.ItemsPrice == nil {
		return errors.NewValidationError("items_price", "items price is required")
	}
	if !req.ItemsPrice.IsPositive() {
		return errors.NewValidationError("items_price", "items price must be positive")
	}

	if req.ShippingPrice == nil {
		return errors.NewValidationError("shipping_price", "shipping price is required")
	}
	if req.ShippingPrice.IsNegative() {
		return errors.NewValidationError("shipping_price", "shipping price cannot be negative")
	}

	if err := validateItems(req.Items); err != nil {
		return err
	}

	return validateAddress(&req.ShippingAddress, "shipping_address")
}

// ValidateVerifyPaymentRequest validates a gateway callback.
func ValidateVerifyPaymentRequest(req *models.VerifyPaymentRequest) error {
	if req.GatewayOrderID == "" {
		return errors.NewValidationError("gateway_order_id", "gateway order ID is required")
	}
	if req.GatewayPaymentID == "" {
		return errors.NewValidationError("gateway_payment_id", "gateway payment ID is required")
	}
	if req.Signature == "" {
		return errors.NewValidationError("signature", "signature is required")
	}
	return nil
}

func validateItems(items []models.OrderItem) error {
	if len(items) == 0 {
		return errors.NewValidationError("items", "at least one item is required")
	}

	for i, item := range items {
		field := fmt.Sprintf("items[%d]", i)

		if item.ProductID == "" {
			return errors.NewValidationError(field, "product ID is required")
		}
		if item.Quantity <= 0 {
			return errors.NewValidationError(field, "quantity must be positive")
		}
		if item.Price.IsNegative() {
			return errors.NewValidationError(field, "price cannot be negative")
		}
		if item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(maxDiscountPercent) {
			return errors.NewValidationError(field, "discount must be between 0 and 100")
		}
	}

	return nil
}

func validateAddress(addr *models.Address, field string) error {
	required := []struct {
		value string
		name  string
	}{
		{addr.FirstName, "first name"},
		{addr.StreetAddress, "street address"},
		{addr.City, "city"},
		{addr.State, "state"},
		{addr.Postcode, "postcode"},
		{addr.Phone, "phone"},
		{addr.Email, "email"},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.NewValidationError(field, r.name+" is required")
		}
	}

	if !strings.Contains(addr.Email, "@") {
		return errors.NewValidationError(field, "email is invalid")
	}

	return nil
}

// normalizeAddress fills defaults the storefront leaves out.
func normalizeAddress(addr models.Address, defaultCountry string) models.Address {
	if strings.TrimSpace(addr.Country) == "" {
		addr.Country = defaultCountry
	}
	return addr
}
