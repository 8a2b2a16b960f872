package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

const tracerName = "github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"

const signatureMismatchMessage = "payment signature mismatch"

// Verification outcomes, used as metric labels and log fields.
const (
	outcomeSuccessful        = "successful"
	outcomeReplay            = "replay"
	outcomeAuthFailed        = "auth_failed"
	outcomeNotFound          = "not_found"
	outcomeInsufficientStock = "insufficient_stock"
	outcomeInvalid           = "invalid"
	outcomeError             = "error"
)

// PaymentService opens gateway transactions for drafts and turns verified
// drafts into confirmed orders.
type PaymentService struct {
	store      repository.Store
	gateway    PaymentGateway
	membership MembershipChecker
	notifier   Notifier
	history    repository.OrderHistoryCache
	inventory  *InventoryLedger
	config     *config.Config
	metrics    *metrics.Metrics
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time

	notifications sync.WaitGroup
}

// NewPaymentService creates a new payment service. notifier and history may
// be nil.
func NewPaymentService(
	store repository.Store,
	gateway PaymentGateway,
	membership MembershipChecker,
	notifier Notifier,
	history repository.OrderHistoryCache,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *logging.Logger,
) *PaymentService {
	if history == nil {
		history = repository.NopHistoryCache{}
	}
	return &PaymentService{
		store:      store,
		gateway:    gateway,
		membership: membership,
		notifier:   notifier,
		history:    history,
		inventory:  NewInventoryLedger(logger.Named("inventory")),
		config:     cfg,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// InitiatePayment prices the checkout, opens a gateway transaction for the
// final amount and records it as the draft's pending payment. The gateway is
// called before anything is written, so a gateway failure leaves the draft
// untouched.
func (s *PaymentService) InitiatePayment(ctx context.Context, req *models.InitiatePaymentRequest) (_ *models.InitiatePaymentResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.InitiatePayment",
		trace.WithAttributes(attribute.String("user.id", req.UserID)))
	outcome := outcomeSuccessful
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
		s.metrics.PaymentInitiated(outcome)
	}()

	if err := ValidateInitiatePaymentRequest(req); err != nil {
		outcome = outcomeInvalid
		return nil, err
	}

	member, err := s.membership.IsActive(ctx, req.UserID)
	if err != nil {
		outcome = outcomeError
		s.logger.Error("Failed to check membership", logging.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("check membership: %w", err)
	}

	base := req.ItemsPrice.Add(*req.ShippingPrice)
	final := ComputeFinalTotal(*req.ItemsPrice, *req.ShippingPrice, member)
	amount := ToMinorUnits(final)
	currency := s.config.Gateway.Currency
	receipt := ReceiptID(req.UserID, s.now())

	span.SetAttributes(
		attribute.Int64("payment.amount_minor", amount),
		attribute.Bool("user.member", member),
	)

	start := time.Now()
	gwOrder, err := s.gateway.CreateOrder(ctx, amount, currency, receipt)
	if err != nil {
		outcome = outcomeError
		s.metrics.GatewayCall(gatewayOutcome(err), time.Since(start))
		s.logger.Error("Gateway order creation failed", logging.Fields{
			"user_id": req.UserID,
			"amount":  amount,
			"error":   err.Error(),
		})
		return nil, err
	}
	s.metrics.GatewayCall("ok", time.Since(start))

	draft := &models.Order{
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: normalizeAddress(req.ShippingAddress, s.config.Pricing.DefaultCountry),
		Currency:        currency,
		IsDraft:         true,
		DraftExpiresAt:  s.now().Add(s.config.Pricing.DraftTTL),
	}
	draft.SetPricing(*req.ItemsPrice, *req.ShippingPrice, base.Sub(final))
	if err := draft.StartPayment(gwOrder.ID); err != nil {
		outcome = outcomeError
		return nil, err
	}

	saved, err := s.store.SavePaymentAttempt(ctx, draft)
	if err != nil {
		outcome = outcomeError
		s.logger.Error("Failed to record payment attempt", logging.Fields{
			"user_id":          req.UserID,
			"gateway_order_id": gwOrder.ID,
			"error":            err.Error(),
		})
		return nil, err
	}

	s.logger.Info("Payment initiated", logging.Fields{
		"order_id":         saved.ID,
		"user_id":          saved.UserID,
		"gateway_order_id": gwOrder.ID,
		"amount":           amount,
		"member":           member,
	})

	return &models.InitiatePaymentResponse{
		GatewayOrderID:   gwOrder.ID,
		AmountMinorUnits: amount,
		Currency:         currency,
	}, nil
}

// VerifyPayment authenticates a gateway callback and, in one transaction,
// confirms the order and decrements stock for every line. A signature
// mismatch is committed as a failed payment. Verifying an already successful
// payment returns the order unchanged.
func (s *PaymentService) VerifyPayment(ctx context.Context, req *models.VerifyPaymentRequest) (_ *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.VerifyPayment",
		trace.WithAttributes(attribute.String("payment.gateway_order_id", req.GatewayOrderID)))
	outcome := outcomeSuccessful
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
		s.metrics.PaymentVerified(outcome)
	}()

	if err := ValidateVerifyPaymentRequest(req); err != nil {
		outcome = outcomeInvalid
		return nil, err
	}

	var (
		result    *models.Order
		authErr   error
		confirmed bool
	)

	txErr := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// The body may run more than once on serialization retries.
		result, authErr, confirmed = nil, nil, false

		order, err := tx.GetOrderByGatewayOrderID(ctx, req.GatewayOrderID)
		if err != nil {
			return err
		}

		switch order.Payment.Status {
		case models.PaymentStatusSuccessful:
			result = order
			return nil
		case models.PaymentStatusFailed:
			authErr = errors.ErrAuthenticationFailed
			return nil
		case models.PaymentStatusPending:
		default:
			return fmt.Errorf("order %s has no open payment", order.ID)
		}

		if !VerifySignature(s.config.Gateway.KeySecret, req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
			if err := order.FailPayment(signatureMismatchMessage); err != nil {
				return err
			}
			if err := tx.UpdatePayment(ctx, order); err != nil {
				return err
			}
			authErr = errors.ErrAuthenticationFailed
			return nil
		}

		if err := s.inventory.Reserve(ctx, tx, order.Items); err != nil {
			return err
		}
		if err := order.Confirm(req.GatewayPaymentID, req.Signature, s.now()); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, order); err != nil {
			return err
		}

		result, confirmed = order, true
		return nil
	})

	switch {
	case txErr != nil:
		outcome = verifyOutcome(txErr)
		s.logger.Warn("Payment verification aborted", logging.Fields{
			"gateway_order_id": req.GatewayOrderID,
			"outcome":          outcome,
			"error":            txErr.Error(),
		})
		return nil, txErr
	case authErr != nil:
		outcome = outcomeAuthFailed
		s.logger.Warn("Payment signature rejected", logging.Fields{
			"gateway_order_id":   req.GatewayOrderID,
			"gateway_payment_id": req.GatewayPaymentID,
		})
		return nil, authErr
	case !confirmed:
		outcome = outcomeReplay
		s.logger.Info("Payment already verified", logging.Fields{
			"order_id":         result.ID,
			"gateway_order_id": req.GatewayOrderID,
		})
		return result, nil
	}

	span.SetAttributes(attribute.String("order.id", result.ID))
	s.logger.Info("Payment verified", logging.Fields{
		"order_id":           result.ID,
		"user_id":            result.UserID,
		"gateway_order_id":   req.GatewayOrderID,
		"gateway_payment_id": req.GatewayPaymentID,
		"total":              result.TotalPrice.String(),
	})

	if err := s.history.InvalidateHistory(ctx, result.UserID); err != nil {
		s.logger.Warn("Failed to invalidate order history", logging.Fields{
			"user_id": result.UserID,
			"error":   err.Error(),
		})
	}
	s.notifyAsync(ctx, result)

	return result, nil
}

// WaitForNotifications blocks until in-flight notifications have finished.
func (s *PaymentService) WaitForNotifications() {
	s.notifications.Wait()
}

func (s *PaymentService) notifyAsync(ctx context.Context, order *models.Order) {
	if s.notifier == nil {
		return
	}

	notifyCtx := middleware.WithRequestID(context.Background(), middleware.RequestIDFrom(ctx))
	order = order.Clone()

	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Notification panicked", logging.Fields{
					"order_id": order.ID,
					"panic":    fmt.Sprint(r),
				})
			}
		}()

		ctx, cancel := context.WithTimeout(notifyCtx, s.config.Notifications.Timeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, order); err != nil {
			s.logger.Warn("Order notification failed", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}()
}

func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return outcomeNotFound
	case errors.IsInsufficientStock(err):
		return outcomeInsufficientStock
	default:
		return outcomeError
	}
}

func gatewayOutcome(err error) string {
	switch {
	case errors.Is(err, errors.ErrGatewayTimeout):
		return "timeout"
	case errors.IsGateway(err):
		return "rejected"
	default:
		return "error"
	}
}
