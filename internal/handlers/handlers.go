package handlers

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds all HTTP handlers for the checkout service.
type Handlers struct {
	draftService   *service.DraftService
	paymentService *service.PaymentService
	historyService *service.HistoryService
	config         *config.Config
	checks         []ReadinessCheck
	logger         *logging.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	draftService *service.DraftService,
	paymentService *service.PaymentService,
	historyService *service.HistoryService,
	cfg *config.Config,
	logger *logging.Logger,
	checks ...ReadinessCheck,
) *Handlers {
	return &Handlers{
		draftService:   draftService,
		paymentService: paymentService,
		historyService: historyService,
		config:         cfg,
		checks:         checks,
		logger:         logger,
	}
}
