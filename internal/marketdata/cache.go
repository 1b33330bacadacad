// Package marketdata caches and streams live prices across venues.
package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/models"
)

// Cache stores the latest observed MarketData per (exchange, symbol). Redis is
// the primary store so multiple processes share quotes; when Redis is down or
// not configured the cache degrades to process-local memory.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]entry
}

type entry struct {
	data    models.MarketData
	expires time.Time
}

func NewCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.Named("marketdata"),
		local:  make(map[string]entry),
	}
}

func key(exchange, symbol string) string {
	return "md:" + exchange + ":" + symbol
}

// Put records a quote in Redis and in the local fallback.
func (c *Cache) Put(ctx context.Context, md models.MarketData) {
	k := key(md.Exchange, md.Symbol)

	c.mu.Lock()
	c.local[k] = entry{data: md, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	payload, err := json.Marshal(md)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, k, payload, c.ttl).Err(); err != nil {
		c.logger.Debug("redis set failed, serving from memory", zap.Error(err))
	}
}

// Get returns the latest quote for (exchange, symbol), preferring Redis.
func (c *Cache) Get(ctx context.Context, exchange, symbol string) (models.MarketData, bool) {
	k := key(exchange, symbol)

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, k).Bytes()
		if err == nil {
			var md models.MarketData
			if json.Unmarshal(raw, &md) == nil {
				return md, true
			}
		} else if err != redis.Nil {
			c.logger.Debug("redis get failed, serving from memory", zap.Error(err))
		}
	}

	c.mu.RLock()
	e, ok := c.local[k]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return models.MarketData{}, false
	}
	return e.data, true
}

// Latest returns every unexpired quote for the symbol across venues.
func (c *Cache) Latest(symbol string) []models.MarketData {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []models.MarketData
	for _, e := range c.local {
		if e.data.Symbol == symbol && now.Before(e.expires) {
			out = append(out, e.data)
		}
	}
	return out
}

// Ping reports whether the Redis backend is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return pterrors.NewConfigError("redis is not configured")
	}
	return c.rdb.Ping(ctx).Err()
}
