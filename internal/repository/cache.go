package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// Ensure RedisOrderCache implements interfaces.OrderCache
var _ interfaces.OrderCache = (*RedisOrderCache)(nil)

const (
	orderKeyPrefix        = "order:"
	orderVersionKeyPrefix = "order_version:"
	userOrdersPrefix      = "user_orders:"
	defaultCacheTTL       = 5 * time.Minute
)

// setIfNewer stores the order unless a newer version was cached already.
// KEYS: order key, version key. ARGV: payload, version, ttl in milliseconds.
var setIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisOrderCache implements OrderCache using Redis.
type RedisOrderCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisOrderCache creates a new Redis-based order cache.
func NewRedisOrderCache(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisOrderCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &RedisOrderCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("order-cache"),
	}
}

// Get retrieves an order from cache. A miss returns (nil, nil).
func (c *RedisOrderCache) Get(ctx context.Context, id string) (*models.Order, error) {
	data, err := c.client.Get(ctx, orderKeyPrefix+id).Bytes()
	if err == redis.Nil {
		c.logger.Debug("Cache miss", logging.Fields{"order_id": id})
		return nil, nil
	}
	if err != nil {
		c.logger.Error("Cache get error", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}

	c.logger.Debug("Cache hit", logging.Fields{"order_id": id})
	return &order, nil
}

// Set stores an order in cache. An order older than the cached version, by
// UpdatedAt, is dropped so a slow read cannot overwrite a later write.
func (c *RedisOrderCache) Set(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	stored, err := setIfNewer.Run(ctx, c.client,
		[]string{orderKeyPrefix + order.ID, orderVersionKeyPrefix + order.ID},
		data, order.UpdatedAt.UnixMicro(), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		c.logger.Error("Cache set error", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return err
	}

	if stored == 0 {
		c.logger.Debug("Skipped caching stale order", logging.Fields{"order_id": order.ID})
		return nil
	}

	c.logger.Debug("Order cached", logging.Fields{
		"order_id": order.ID,
		"ttl":      c.ttl.String(),
	})
	return nil
}

// Delete removes an order from cache. The version marker stays so older
// reads still cannot repopulate the entry.
func (c *RedisOrderCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, orderKeyPrefix+id).Err(); err != nil {
		c.logger.Error("Cache delete error", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return err
	}
	return nil
}

// GetByUserID retrieves cached orders for a user.
func (c *RedisOrderCache) GetByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	data, err := c.client.Get(ctx, userOrdersPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var orders []*models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// SetByUserID caches orders for a user.
func (c *RedisOrderCache) SetByUserID(ctx context.Context, userID string, orders []*models.Order) error {
	data, err := json.Marshal(orders)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, userOrdersPrefix+userID, data, c.ttl).Err()
}

// InvalidateByUserID removes cached orders for a user.
func (c *RedisOrderCache) InvalidateByUserID(ctx context.Context, userID string) error {
	return c.client.Del(ctx, userOrdersPrefix+userID).Err()
}

// Ping checks the Redis connection.
func (c *RedisOrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
