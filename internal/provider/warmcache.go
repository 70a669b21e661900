package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/domain"
)

// WarmCache is an optional short-TTL tier in front of the durable cache.
// Get answers only when it holds at least limit fresh candles for the
// key; anything less falls through to the store.
type WarmCache interface {
	Get(ctx context.Context, key string, limit int) ([]domain.Kline, bool)
	Put(ctx context.Context, key string, klines []domain.Kline, ttl time.Duration)
}

// RedisWarmCache stores the most recent candle window per key as one
// JSON blob with the freshness window as its TTL. A miss or any Redis
// failure is answered by the durable cache, never by an error.
type RedisWarmCache struct {
	client *redis.Client
	prefix string
}

// NewRedisWarmCache builds the warm tier.
func NewRedisWarmCache(client *redis.Client) *RedisWarmCache {
	return &RedisWarmCache{client: client, prefix: "klines:"}
}

// Get implements WarmCache.
func (c *RedisWarmCache) Get(ctx context.Context, key string, limit int) ([]domain.Kline, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("warm cache read failed")
		return nil, false
	}

	var klines []domain.Kline
	if err := json.Unmarshal(raw, &klines); err != nil {
		return nil, false
	}
	if len(klines) < limit {
		return nil, false
	}
	return klines[len(klines)-limit:], true
}

// Put implements WarmCache.
func (c *RedisWarmCache) Put(ctx context.Context, key string, klines []domain.Kline, ttl time.Duration) {
	raw, err := json.Marshal(klines)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("warm cache write failed")
	}
}
