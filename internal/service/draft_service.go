package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// DraftService manages the single mutable draft order of each user.
type DraftService struct {
	repo     repository.OrderRepository
	pricing  config.PricingConfig
	currency string
	metrics  *metrics.Metrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewDraftService creates a new draft service.
func NewDraftService(
	repo repository.OrderRepository,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *logging.Logger,
) *DraftService {
	return &DraftService{
		repo:     repo,
		pricing:  cfg.Pricing,
		currency: cfg.Gateway.Currency,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// StageDraft creates the user's draft or overwrites the existing one. The
// shipping fee is waived for users without a confirmed order.
func (s *DraftService) StageDraft(ctx context.Context, req *models.StageDraftRequest) (*models.StageDraftResponse, error) {
	if err := ValidateStageDraftRequest(req); err != nil {
		return nil, err
	}

	s.logger.Info("Staging draft", logging.Fields{
		"user_id":    req.UserID,
		"item_count": len(req.Items),
	})

	confirmed, err := s.repo.CountConfirmed(ctx, req.UserID)
	if err != nil {
		s.logger.Error("Failed to count confirmed orders", logging.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		return nil, err
	}
	shippingFee := ShippingFee(confirmed, s.pricing.ShippingFee)

	draft := &models.Order{
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: normalizeAddress(req.ShippingAddress, s.pricing.DefaultCountry),
		Currency:        s.currency,
		IsDraft:         true,
		DraftExpiresAt:  s.now().Add(s.pricing.DraftTTL),
	}
	draft.SetPricing(*req.ItemsPrice, shippingFee, decimal.Zero)

	saved, err := s.repo.SaveDraft(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.metrics.DraftStaged()

	s.logger.Info("Draft staged", logging.Fields{
		"order_id":     saved.ID,
		"user_id":      saved.UserID,
		"shipping_fee": shippingFee.String(),
		"total":        saved.TotalPrice.String(),
	})

	return &models.StageDraftResponse{Order: saved, ShippingFee: shippingFee}, nil
}

// GetDraft returns the user's draft or errors.ErrNotFound.
func (s *DraftService) GetDraft(ctx context.Context, userID string) (*models.Order, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user", "user ID is required")
	}
	return s.repo.GetDraft(ctx, userID)
}
