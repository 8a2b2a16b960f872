package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

var _ service.MembershipChecker = (*HTTPMembershipClient)(nil)

// HTTPMembershipClient looks up paid memberships in the membership service.
type HTTPMembershipClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *logging.Logger
}

// NewHTTPMembershipClient creates a new HTTP-based membership client.
func NewHTTPMembershipClient(cfg config.ServiceConfig, logger *logging.Logger) *HTTPMembershipClient {
	return &HTTPMembershipClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

type membershipResponse struct {
	UserID        string `json:"user_id"`
	PaymentStatus bool   `json:"payment_status"`
}

// IsActive reports whether the user has paid for a membership. Users without
// a membership record are not members.
func (c *HTTPMembershipClient) IsActive(ctx context.Context, userID string) (bool, error) {
	c.logger.Debug("Fetching membership", logging.Fields{"user_id": userID})

	endpoint := fmt.Sprintf("%s/api/v2/memberships/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	c.setHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch membership", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("membership service returned status %d", resp.StatusCode)
	}

	var membership membershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&membership); err != nil {
		return false, err
	}

	c.logger.Debug("Membership fetched", logging.Fields{
		"user_id": userID,
		"active":  membership.PaymentStatus,
	})

	return membership.PaymentStatus, nil
}

func (c *HTTPMembershipClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if requestID := middleware.RequestIDFrom(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
}
