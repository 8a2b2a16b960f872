package service

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// HistoryService reads a user's confirmed orders.
type HistoryService struct {
	repo     repository.OrderRepository
	cache    repository.OrderHistoryCache
	useCache bool
	logger   *logging.Logger
}

// NewHistoryService creates a history reader. A nil cache or useCache=false
// reads straight from the store.
func NewHistoryService(repo repository.OrderRepository, cache repository.OrderHistoryCache, useCache bool, logger *logging.Logger) *HistoryService {
	if cache == nil {
		cache = repository.NopHistoryCache{}
	}
	return &HistoryService{
		repo:     repo,
		cache:    cache,
		useCache: useCache,
		logger:   logger,
	}
}

// ListOrderHistory returns confirmed orders newest first. Cache failures fall
// through to the store.
func (s *HistoryService) ListOrderHistory(ctx context.Context, userID string) ([]*models.Order, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user", "user ID is required")
	}

	// The version is read before the store so a confirmation committed in
	// between invalidates this list.
	canCache := false
	var version int64
	if s.useCache {
		orders, v, err := s.cache.GetHistory(ctx, userID)
		if err == nil && orders != nil {
			return orders, nil
		}
		canCache = err == nil
		version = v
	}

	orders, err := s.repo.ListConfirmed(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list order history", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, err
	}

	if canCache {
		if err := s.cache.SetHistory(ctx, userID, orders, version); err != nil {
			s.logger.Warn("Failed to cache order history", logging.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}

	return orders, nil
}
