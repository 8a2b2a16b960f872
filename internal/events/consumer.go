package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const dedupKeyPrefix = "payment_callback:"

// PaymentCallback is a signed payment confirmation relayed by the gateway.
type PaymentCallback struct {
	Event            string `json:"event"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

// PaymentVerifier confirms a draft from a signed callback.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, req *models.VerifyPaymentRequest) (*models.Order, error)
}

// Deduplicator claims a callback so redeliveries are skipped.
type Deduplicator interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// RedisDeduplicator records claimed callbacks with SETNX.
type RedisDeduplicator struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisDeduplicator(client redis.UniversalClient, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, dedupKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

func (d *RedisDeduplicator) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, dedupKeyPrefix+key).Err()
}

// CallbackConsumer verifies payment callbacks read from Kafka.
type CallbackConsumer struct {
	reader   MessageReader
	verifier PaymentVerifier
	dedup    Deduplicator
	metrics  *metrics.Metrics
	logger   *logging.Logger
	stopCh   chan struct{}
}

// NewCallbackConsumer creates a consumer for the callbacks topic. dedup may be nil.
func NewCallbackConsumer(cfg config.KafkaConfig, verifier PaymentVerifier, dedup Deduplicator, m *metrics.Metrics, logger *logging.Logger) *CallbackConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.CallbacksTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	return NewConsumerWithReader(reader, verifier, dedup, m, logger)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader MessageReader, verifier PaymentVerifier, dedup Deduplicator, m *metrics.Metrics, logger *logging.Logger) *CallbackConsumer {
	return &CallbackConsumer{
		reader:   reader,
		verifier: verifier,
		dedup:    dedup,
		metrics:  m,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start consumes callbacks until ctx is cancelled or Stop is called.
func (c *CallbackConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting callback consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Callback consumer stopped")
			return nil
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case <-c.stopCh:
					c.logger.Info("Callback consumer stopped")
					return nil
				default:
				}
				c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
				continue
			}

			outcome := c.handleMessage(ctx, msg)
			c.metrics.CallbackHandled(outcome)
		}
	}
}

// Stop stops the consumer.
func (c *CallbackConsumer) Stop() {
	close(c.stopCh)
	c.reader.Close()
}

func (c *CallbackConsumer) handleMessage(ctx context.Context, msg kafka.Message) string {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var cb PaymentCallback
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		c.logger.Error("Failed to unmarshal callback", logging.Fields{"error": err.Error()})
		return "malformed"
	}

	ctx = middleware.WithRequestID(ctx, requestIDFromHeaders(msg.Headers))

	key := fmt.Sprintf("%s:%s", cb.GatewayOrderID, cb.GatewayPaymentID)
	if c.dedup != nil {
		claimed, err := c.dedup.Claim(ctx, key)
		if err != nil {
			// verification is idempotent
			c.logger.Warn("Callback de-duplication unavailable", logging.Fields{"error": err.Error()})
		} else if !claimed {
			c.logger.Debug("Skipping duplicate callback", logging.Fields{"key": key})
			return "duplicate"
		}
	}

	order, err := c.verifier.VerifyPayment(ctx, &models.VerifyPaymentRequest{
		GatewayOrderID:   cb.GatewayOrderID,
		GatewayPaymentID: cb.GatewayPaymentID,
		Signature:        cb.Signature,
	})

	outcome := callbackOutcome(err)
	if outcome == "error" && c.dedup != nil {
		if relErr := c.dedup.Release(ctx, key); relErr != nil {
			c.logger.Warn("Failed to release callback claim", logging.Fields{"key": key, "error": relErr.Error()})
		}
	}

	if err != nil {
		c.logger.Error("Callback verification failed", logging.Fields{
			"gateway_order_id": cb.GatewayOrderID,
			"outcome":          outcome,
			"error":            err.Error(),
		})
		return outcome
	}

	c.logger.Info("Callback verified", logging.Fields{
		"gateway_order_id": cb.GatewayOrderID,
		"order_id":         order.ID,
	})
	return outcome
}

// callbackOutcome classifies a verification result. Only "error" outcomes
// are worth another delivery.
func callbackOutcome(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, errors.ErrAuthenticationFailed):
		return "rejected"
	case errors.Is(err, errors.ErrNotFound):
		return "unknown_order"
	case errors.IsValidation(err):
		return "invalid"
	case errors.IsInsufficientStock(err):
		return "out_of_stock"
	default:
		return "error"
	}
}

func requestIDFromHeaders(headers []kafka.Header) string {
	for _, h := range headers {
		if h.Key == middleware.HeaderRequestID && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return uuid.New().String()
}
