package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

const orderConfirmationTemplate = "order_confirmation"

// Ensure HTTPNotificationClient implements service.NotificationSender
var _ service.NotificationSender = (*HTTPNotificationClient)(nil)

// HTTPNotificationClient delivers order notifications through the
// notification service. Rendering the message is the service's job.
type HTTPNotificationClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *logging.Logger
}

// NewHTTPNotificationClient creates a new HTTP-based notification client.
func NewHTTPNotificationClient(cfg config.ServiceConfig, logger *logging.Logger) *HTTPNotificationClient {
	return &HTTPNotificationClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

type emailRequest struct {
	To       string        `json:"to"`
	Subject  string        `json:"subject"`
	Template string        `json:"template"`
	Order    *models.Order `json:"order"`
}

type messageRequest struct {
	To       string        `json:"to"`
	Channel  string        `json:"channel"`
	Template string        `json:"template"`
	Order    *models.Order `json:"order"`
}

// SendEmail sends an order confirmation email.
func (c *HTTPNotificationClient) SendEmail(ctx context.Context, to, subject string, order *models.Order) error {
	c.logger.Debug("Sending email", logging.Fields{
		"to":       to,
		"order_id": order.ID,
	})

	err := c.post(ctx, "/api/v2/notifications/email", emailRequest{
		To:       to,
		Subject:  subject,
		Template: orderConfirmationTemplate,
		Order:    order,
	})
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}

	c.logger.Info("Email sent", logging.Fields{"to": to, "order_id": order.ID})
	return nil
}

// SendMessage sends an order summary as a WhatsApp message.
func (c *HTTPNotificationClient) SendMessage(ctx context.Context, to string, order *models.Order) error {
	c.logger.Debug("Sending message", logging.Fields{
		"to":       to,
		"order_id": order.ID,
	})

	err := c.post(ctx, "/api/v2/notifications/message", messageRequest{
		To:       to,
		Channel:  "whatsapp",
		Template: orderConfirmationTemplate,
		Order:    order,
	})
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}

	c.logger.Info("Message sent", logging.Fields{"to": to, "order_id": order.ID})
	return nil
}

func (c *HTTPNotificationClient) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Notification request failed", logging.Fields{
			"path":  path,
			"error": err.Error(),
		})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPNotificationClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if requestID := middleware.RequestIDFrom(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
}
