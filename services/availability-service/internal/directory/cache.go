package directory

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
)

const DefaultCacheTTL = 10 * time.Minute

type CacheObserver interface {
	ObserveCache(hit bool)
}

// Cache is a Redis read-through cache in front of another Lookup.
// Redis failures fall through to the backing lookup.
type Cache struct {
	next   Lookup
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	obs    CacheObserver
	logger *slog.Logger
}

type CacheConfig struct {
	TTL    time.Duration
	Prefix string
}

func NewCache(next Lookup, rdb *redis.Client, cfg CacheConfig, obs CacheObserver, logger *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "directory:provider:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, rdb: rdb, ttl: cfg.TTL, prefix: cfg.Prefix, obs: obs, logger: logger}
}

func (c *Cache) key(id string) string { return c.prefix + id }

func (c *Cache) Providers(ctx context.Context, ids []string) (map[string]model.Provider, error) {
	out := make(map[string]model.Provider, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if c.rdb == nil {
		return c.next.Providers(ctx, ids)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("directory cache read failed", "err", err)
		vals = make([]any, len(ids))
	}

	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			c.observe(false)
			continue
		}
		var p model.Provider
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			missing = append(missing, ids[i])
			c.observe(false)
			continue
		}
		out[ids[i]] = p
		c.observe(true)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.Providers(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := c.rdb.Pipeline()
	for id, p := range fetched {
		out[id] = p
		if b, err := json.Marshal(p); err == nil {
			pipe.Set(ctx, c.key(id), b, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("directory cache write failed", "err", err)
	}
	return out, nil
}

// Invalidate drops a cached provider so the next lookup reloads it.
func (c *Cache) Invalidate(ctx context.Context, providerID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.key(providerID)).Err()
}

func (c *Cache) observe(hit bool) {
	if c.obs != nil {
		c.obs.ObserveCache(hit)
	}
}
