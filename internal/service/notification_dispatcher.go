package service

import (
	"context"
	"fmt"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	channelCustomerEmail = "customer_email"
	channelOwnerEmail    = "owner_email"
	channelOwnerMessage  = "owner_message"
	channelOrderEvent    = "order_event"
)

// NotificationDispatcher fans a confirmed order out to the customer, the
// store owner and the order event stream. Every channel is attempted even
// when an earlier one fails.
type NotificationDispatcher struct {
	sender     NotificationSender
	publisher  OrderEventPublisher
	ownerEmail string
	ownerPhone string
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

var _ Notifier = (*NotificationDispatcher)(nil)

// NewNotificationDispatcher creates a dispatcher. sender and publisher may be
// nil to disable their channels.
func NewNotificationDispatcher(
	sender NotificationSender,
	publisher OrderEventPublisher,
	cfg config.NotificationConfig,
	m *metrics.Metrics,
	logger *logging.Logger,
) *NotificationDispatcher {
	return &NotificationDispatcher{
		sender:     sender,
		publisher:  publisher,
		ownerEmail: cfg.OwnerEmail,
		ownerPhone: cfg.OwnerPhone,
		metrics:    m,
		logger:     logger,
	}
}

func (d *NotificationDispatcher) Notify(ctx context.Context, order *models.Order) error {
	var errs []error

	if d.sender != nil {
		if to := order.ShippingAddress.Email; to != "" {
			errs = append(errs, d.deliver(channelCustomerEmail, order, func() error {
				return d.sender.SendEmail(ctx, to, fmt.Sprintf("Your order %s is confirmed", order.ID), order)
			}))
		}
		if d.ownerEmail != "" {
			errs = append(errs, d.deliver(channelOwnerEmail, order, func() error {
				return d.sender.SendEmail(ctx, d.ownerEmail, fmt.Sprintf("New order %s", order.ID), order)
			}))
		}
		if d.ownerPhone != "" {
			errs = append(errs, d.deliver(channelOwnerMessage, order, func() error {
				return d.sender.SendMessage(ctx, d.ownerPhone, order)
			}))
		}
	}

	if d.publisher != nil {
		errs = append(errs, d.deliver(channelOrderEvent, order, func() error {
			return d.publisher.PublishOrderConfirmed(ctx, order)
		}))
	}

	return errors.Join(errs...)
}

func (d *NotificationDispatcher) deliver(channel string, order *models.Order, send func() error) error {
	if err := send(); err != nil {
		d.metrics.Notification(channel, "failed")
		d.logger.Warn("Notification channel failed", logging.Fields{
			"order_id": order.ID,
			"channel":  channel,
			"error":    err.Error(),
		})
		return fmt.Errorf("%s: %w", channel, err)
	}

	d.metrics.Notification(channel, "sent")
	d.logger.Debug("Notification sent", logging.Fields{
		"order_id": order.ID,
		"channel":  channel,
	})
	return nil
}
