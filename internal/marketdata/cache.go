package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/backtest-engine/internal/model"
)

// CachedProvider wraps a Provider with a Redis read-through cache.
// Cache failures are logged and fall through to the source; the cache
// is never the source of truth.
type CachedProvider struct {
	source Provider
	rdb    *redis.Client
	ttl    time.Duration
}

// NewCachedProvider wraps source with a Redis cache.
func NewCachedProvider(source Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{source: source, rdb: rdb, ttl: ttl}
}

func candleKey(symbol, interval string) string {
	return fmt.Sprintf("candles:%s:%s", symbol, interval)
}

func (c *CachedProvider) Candles(ctx context.Context, symbol, interval string) ([]model.Candle, error) {
	key := candleKey(symbol, interval)

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var candles []model.Candle
		if err := json.Unmarshal(data, &candles); err == nil {
			return candles, nil
		}
		slog.Warn("cache entry corrupt, refetching", "key", key)
	} else if err != redis.Nil {
		slog.Warn("cache read failed", "key", key, "error", err)
	}

	candles, err := c.source.Candles(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(candles); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return candles, nil
}

// Invalidate drops the cached series for a symbol and interval.
func (c *CachedProvider) Invalidate(ctx context.Context, symbol, interval string) error {
	return c.rdb.Del(ctx, candleKey(symbol, interval)).Err()
}
