package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of the gateway transaction attached to an order.
type PaymentStatus string

const (
	// PaymentStatusNone means no gateway transaction has been opened yet.
	PaymentStatusNone       PaymentStatus = ""
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccessful PaymentStatus = "successful"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccessful || s == PaymentStatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Opening a new gateway transaction (-> pending) replaces the whole
// payment record and is allowed from any non-successful state.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch next {
	case PaymentStatusPending:
		return s != PaymentStatusSuccessful
	case PaymentStatusSuccessful, PaymentStatusFailed:
		return s == PaymentStatusPending
	default:
		return false
	}
}

// Address is the shipping destination captured with the order.
type Address struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Country       string `json:"country"`
	StreetAddress string `json:"street_address"`
	Apartment     string `json:"apartment,omitempty"`
	City          string `json:"city"`
	State         string `json:"state"`
	Postcode      string `json:"postcode"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
}

// OrderItem is a frozen copy of catalog data at order time.
type OrderItem struct {
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Quantity        int             `json:"quantity"`
	Color           string          `json:"color,omitempty"`
	Image           string          `json:"image,omitempty"`
}

// Payment records the gateway transaction for an order.
type Payment struct {
	GatewayOrderID   string        `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	Signature        string        `json:"signature,omitempty"`
	Status           PaymentStatus `json:"status"`
	Message          string        `json:"message,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
}

// Order is one entry of a user's order sequence. At most one entry per user
// is a draft; it becomes immutable once confirmed.
type Order struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	Items              []OrderItem     `json:"items"`
	ShippingAddress    Address         `json:"shipping_address"`
	ItemsPrice         decimal.Decimal `json:"items_price"`
	ShippingFee        decimal.Decimal `json:"shipping_fee"`
	MembershipDiscount decimal.Decimal `json:"membership_discount"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	Currency           string          `json:"currency"`
	IsDraft            bool            `json:"is_draft"`
	DraftExpiresAt     time.Time       `json:"draft_expires_at"`
	Payment            Payment         `json:"payment"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SetPricing stores the price breakdown and derives the total from it.
func (o *Order) SetPricing(itemsPrice, shippingFee, membershipDiscount decimal.Decimal) {
	o.ItemsPrice = itemsPrice
	o.ShippingFee = shippingFee
	o.MembershipDiscount = membershipDiscount
	o.TotalPrice = itemsPrice.Add(shippingFee).Sub(membershipDiscount)
}

// StartPayment attaches a fresh pending gateway transaction.
func (o *Order) StartPayment(gatewayOrderID string) error {
	if !o.IsDraft {
		return fmt.Errorf("order %s is already confirmed", o.ID)
	}
	if !o.Payment.Status.CanTransitionTo(PaymentStatusPending) {
		return fmt.Errorf("order %s: cannot start payment from %q", o.ID, o.Payment.Status)
	}
	o.Payment = Payment{
		GatewayOrderID: gatewayOrderID,
		Status:         PaymentStatusPending,
	}
	return nil
}

// FailPayment marks the gateway transaction as failed. The order stays a draft.
func (o *Order) FailPayment(message string) error {
	if !o.Payment.Status.CanTransitionTo(PaymentStatusFailed) {
		return fmt.Errorf("order %s: cannot fail payment from %q", o.ID, o.Payment.Status)
	}
	o.Payment.Status = PaymentStatusFailed
	o.Payment.Message = message
	return nil
}

// Confirm records a verified payment and turns the draft into a confirmed order.
func (o *Order) Confirm(gatewayPaymentID, signature string, paidAt time.Time) error {
	if !o.IsDraft {
		return fmt.Errorf("order %s is already confirmed", o.ID)
	}
	if !o.Payment.Status.CanTransitionTo(PaymentStatusSuccessful) {
		return fmt.Errorf("order %s: cannot confirm payment from %q", o.ID, o.Payment.Status)
	}
	o.Payment = Payment{
		GatewayOrderID:   o.Payment.GatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        signature,
		Status:           PaymentStatusSuccessful,
		PaidAt:           &paidAt,
	}
	o.IsDraft = false
	return nil
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.Payment.PaidAt != nil {
		t := *o.Payment.PaidAt
		c.Payment.PaidAt = &t
	}
	return &c
}

// Product is the catalog entity whose stock the checkout decrements.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// GatewayOrder is the provider's view of an opened transaction.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}
