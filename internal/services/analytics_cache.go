package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
)

const cacheKeyPrefix = "merchant:analytics:compiled"

// AnalyticsCache caches compiled range aggregations in redis so repeated
// reads of the same range skip the bucket merge. Cache failures degrade to a
// recompute, never to an error.
type AnalyticsCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewAnalyticsCache creates the compiled-analytics cache.
func NewAnalyticsCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *AnalyticsCache {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &AnalyticsCache{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *AnalyticsCache) cacheKey(start, end string) string {
	return fmt.Sprintf("%s:%s:%s", cacheKeyPrefix, start, end)
}

// Get returns the cached compiled metrics for a range, if present.
func (c *AnalyticsCache) Get(ctx context.Context, start, end string) (map[int64]merchant.CompiledMetrics, bool) {
	if c.redis == nil {
		return nil, false
	}

	key := c.cacheKey(start, end)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("failed to read compiled analytics cache", zap.Error(err), zap.String("key", key))
		}
		return nil, false
	}

	keyed := make(map[string]merchant.CompiledMetrics)
	if err := json.Unmarshal(data, &keyed); err != nil {
		c.logger.Warn("failed to decode cached compiled analytics", zap.Error(err))
		return nil, false
	}

	compiled := make(map[int64]merchant.CompiledMetrics, len(keyed))
	for k, m := range keyed {
		var entityID int64
		if _, err := fmt.Sscanf(k, "%d", &entityID); err == nil {
			compiled[entityID] = m
		}
	}
	c.logger.Debug("compiled analytics cache hit", zap.String("key", key))
	return compiled, true
}

// Set stores compiled metrics for a range.
func (c *AnalyticsCache) Set(ctx context.Context, start, end string, compiled map[int64]merchant.CompiledMetrics) {
	if c.redis == nil {
		return
	}

	keyed := make(map[string]merchant.CompiledMetrics, len(compiled))
	for entityID, m := range compiled {
		keyed[fmt.Sprintf("%d", entityID)] = m
	}
	data, err := json.Marshal(keyed)
	if err != nil {
		c.logger.Warn("failed to encode compiled analytics for cache", zap.Error(err))
		return
	}

	key := c.cacheKey(start, end)
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to write compiled analytics cache", zap.Error(err), zap.String("key", key))
	}
}

// InvalidateAll drops every cached range. Called after any bucket write.
func (c *AnalyticsCache) InvalidateAll(ctx context.Context) {
	if c.redis == nil {
		return
	}

	keys, err := c.redis.Keys(ctx, cacheKeyPrefix+":*").Result()
	if err != nil {
		c.logger.Warn("failed to list compiled analytics cache keys", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("failed to invalidate compiled analytics cache", zap.Error(err))
		return
	}
	c.logger.Debug("invalidated compiled analytics cache", zap.Int("keys_removed", len(keys)))
}
