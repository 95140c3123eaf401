package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

const defaultMarketTTL = 2 * time.Minute

// MarketCache implements domain.MarketCache. Each entry is a hash holding the
// JSON-encoded market with its options.
//
// Key schema:
//
//	{prefix}:market:{id} - hash with field "data" containing JSON
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache. A zero ttl uses the default.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

// Set stores a market and its options.
func (mc *MarketCache) Set(ctx context.Context, m domain.MarketWithOptions) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.ID, err)
	}

	key := mc.c.Key("market", m.ID)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.ID, err)
	}
	return nil
}

// Get returns a cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.MarketWithOptions, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.c.Key("market", id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketWithOptions{}, domain.ErrNotFound
		}
		return domain.MarketWithOptions{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var m domain.MarketWithOptions
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.MarketWithOptions{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return m, nil
}

// Invalidate drops the given markets from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = mc.c.Key("market", id)
	}
	if err := mc.c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %d markets: %w", len(ids), err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
