package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

const tracerName = "github.com/tm-acme-shop/acme-shop-checkout-service/internal/clients"

var _ service.PaymentGateway = (*HTTPGatewayClient)(nil)

// HTTPGatewayClient talks to a Razorpay-compatible orders API.
type HTTPGatewayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
	tracer     trace.Tracer
}

// NewHTTPGatewayClient creates a new payment gateway client.
func NewHTTPGatewayClient(cfg config.GatewayConfig, logger *logging.Logger) *HTTPGatewayClient {
	return &HTTPGatewayClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		timeout:   cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type gatewayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a gateway transaction for amountMinorUnits. Provider
// rejections come back as *errors.GatewayError and timeouts as
// errors.ErrGatewayTimeout.
func (c *HTTPGatewayClient) CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string) (_ *models.GatewayOrder, err error) {
	ctx, span := c.tracer.Start(ctx, "gateway.CreateOrder",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("payment.amount_minor", amountMinorUnits),
			attribute.String("payment.currency", currency),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("Creating gateway order", logging.Fields{
		"amount":   amountMinorUnits,
		"currency": currency,
		"receipt":  receipt,
	})

	body, err := json.Marshal(createOrderRequest{
		Amount:   amountMinorUnits,
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/orders", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Error("Gateway request timed out", logging.Fields{
				"receipt": receipt,
				"timeout": c.timeout.String(),
			})
			return nil, errors.ErrGatewayTimeout
		}
		c.logger.Error("Gateway request failed", logging.Fields{
			"receipt": receipt,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		gwErr := decodeGatewayError(resp)
		c.logger.Error("Gateway rejected order", logging.Fields{
			"receipt":     receipt,
			"status_code": resp.StatusCode,
			"code":        gwErr.Code,
			"description": gwErr.Description,
		})
		return nil, gwErr
	}

	var order models.GatewayOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		if isTimeout(err) {
			return nil, errors.ErrGatewayTimeout
		}
		return nil, fmt.Errorf("decode gateway order: %w", err)
	}
	if order.ID == "" {
		return nil, &errors.GatewayError{StatusCode: resp.StatusCode, Description: "response has no order id"}
	}

	c.logger.Info("Gateway order created", logging.Fields{
		"gateway_order_id": order.ID,
		"amount":           order.Amount,
		"receipt":          order.Receipt,
	})

	return &order, nil
}

func (c *HTTPGatewayClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	if requestID := middleware.RequestIDFrom(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
}

func decodeGatewayError(resp *http.Response) *errors.GatewayError {
	gwErr := &errors.GatewayError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		gwErr.Description = http.StatusText(resp.StatusCode)
		return gwErr
	}

	var body gatewayErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Description == "" {
		gwErr.Description = strings.TrimSpace(string(data))
		return gwErr
	}

	gwErr.Code = body.Error.Code
	gwErr.Description = body.Error.Description
	return gwErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
