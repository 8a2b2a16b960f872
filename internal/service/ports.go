package service

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// PaymentGateway opens transactions with the payment provider.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string) (*models.GatewayOrder, error)
}

// MembershipChecker reports whether a user holds an active paid membership.
type MembershipChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// Notifier is told about confirmed orders. Implementations must not block
// for long; callers run them after the order is committed.
type Notifier interface {
	Notify(ctx context.Context, order *models.Order) error
}

// OrderEventPublisher emits domain events about orders.
type OrderEventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, order *models.Order) error
}

// NotificationSender delivers a single notification over a channel.
type NotificationSender interface {
	SendEmail(ctx context.Context, to, subject string, order *models.Order) error
	SendMessage(ctx context.Context, to string, order *models.Order) error
}
