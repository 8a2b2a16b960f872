package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	userHistoryPrefix = "user_history:"
	userVersionPrefix = "user_history_version:"
	defaultCacheTTL   = 5 * time.Minute
	versionTTLFactor  = 12
)

var errStaleHistory = errors.New("history version changed")

// RedisHistoryCache implements OrderHistoryCache using Redis.
type RedisHistoryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logging.Logger
}

var _ OrderHistoryCache = (*RedisHistoryCache)(nil)

// NewRedisClient creates a client from the service configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisHistoryCache creates a history cache on an existing client.
func NewRedisHistoryCache(client redis.UniversalClient, ttl time.Duration, logger *logging.Logger) *RedisHistoryCache {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &RedisHistoryCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// GetHistory returns the cached list and the user's history version. A miss
// returns nil orders; the version is still valid for a later SetHistory.
func (c *RedisHistoryCache) GetHistory(ctx context.Context, userID string) ([]*models.Order, int64, error) {
	vals, err := c.client.MGet(ctx, historyKey(userID), versionKey(userID)).Result()
	if err != nil {
		c.logger.Error("Cache get error", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, 0, err
	}

	var version int64
	if raw, ok := vals[1].(string); ok {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("history version: %w", err)
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		c.logger.Debug("Cache miss", logging.Fields{"user_id": userID, "version": version})
		return nil, version, nil
	}

	var orders []*models.Order
	if err := json.Unmarshal([]byte(raw), &orders); err != nil {
		return nil, 0, err
	}

	c.logger.Debug("Cache hit", logging.Fields{"user_id": userID, "count": len(orders)})
	return orders, version, nil
}

// SetHistory stores orders only while the user's version still equals
// version. A concurrent InvalidateHistory makes the write a no-op.
func (c *RedisHistoryCache) SetHistory(ctx context.Context, userID string, orders []*models.Order, version int64) error {
	data, err := json.Marshal(orders)
	if err != nil {
		return err
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey(userID)).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return errStaleHistory
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, historyKey(userID), data, c.ttl)
			return nil
		})
		return err
	}, versionKey(userID))

	if errors.Is(err, errStaleHistory) || errors.Is(err, redis.TxFailedErr) {
		c.logger.Debug("Skipping stale history write", logging.Fields{
			"user_id": userID,
			"version": version,
		})
		return nil
	}
	if err != nil {
		c.logger.Error("Cache set error", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

// InvalidateHistory bumps the user's version and drops the cached list.
func (c *RedisHistoryCache) InvalidateHistory(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), c.versionTTL())
		pipe.Del(ctx, historyKey(userID))
		return nil
	})
	return err
}

// The version must outlive any list written under it.
func (c *RedisHistoryCache) versionTTL() time.Duration {
	return versionTTLFactor * c.ttl
}

// Both keys share a hash tag so they land in the same cluster slot.
func historyKey(userID string) string { return userHistoryPrefix + "{" + userID + "}" }
func versionKey(userID string) string { return userVersionPrefix + "{" + userID + "}" }
