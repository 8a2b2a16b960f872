package models

import "github.com/shopspring/decimal"

// StageDraftRequest creates or overwrites the user's draft order.
// ItemsPrice is a pointer so a missing value can be told apart from zero.
type StageDraftRequest struct {
	UserID          string           `json:"user"`
	Items           []OrderItem      `json:"items"`
	ShippingAddress Address          `json:"shipping_address"`
	ItemsPrice      *decimal.Decimal `json:"items_price"`
}

type StageDraftResponse struct {
	Order       *Order          `json:"order"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
}

type InitiatePaymentRequest struct {
	UserID          string           `json:"user"`
	ItemsPrice      *decimal.Decimal `json:"items_price"`
	ShippingPrice   *decimal.Decimal `json:"shipping_price"`
	Items           []OrderItem      `json:"items"`
	ShippingAddress Address          `json:"shipping_address"`
}

type InitiatePaymentResponse struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	AmountMinorUnits int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// VerifyPaymentRequest is the signed confirmation delivered by the gateway.
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}
