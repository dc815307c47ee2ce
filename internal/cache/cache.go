// Package cache memoizes query results for a day (or whatever TTL is configured).
//
// Lookups go to an in-process expirable LRU first, then to Redis when one is
// configured. Results are keyed by function name, arguments and the dataset
// version, so a fresh ingest never serves stale aggregates. Concurrent misses
// for the same key run the underlying function once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/curiouslearning/cl-dashboard/internal/telemetry"
)

const (
	DefaultTTL  = 24 * time.Hour
	DefaultSize = 512
	keyPrefix   = "cldash:"
)

type Options struct {
	TTL     time.Duration
	Size    int
	Redis   redis.UniversalClient
	Log     *zap.Logger
	Metrics *telemetry.Metrics
}

type Cache struct {
	ttl   time.Duration
	l1    *lru.LRU[string, any]
	l2    redis.UniversalClient
	group singleflight.Group
	log   *zap.Logger
	tel   *telemetry.Metrics
}

func New(o Options) *Cache {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return &Cache{
		ttl: o.TTL,
		l1:  lru.NewLRU[string, any](o.Size, nil, o.TTL),
		l2:  o.Redis,
		log: o.Log,
		tel: o.Metrics,
	}
}

// Key joins a function name, the dataset version and the call arguments.
func Key(fn string, version int64, args ...any) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(fn)
	fmt.Fprintf(&b, ":v%d", version)
	for _, a := range args {
		fmt.Fprintf(&b, ":%v", a)
	}
	return b.String()
}

// Purge drops the in-process tier. Redis entries age out on their own; their
// keys carry the old dataset version.
func (c *Cache) Purge() {
	if c != nil {
		c.l1.Purge()
	}
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.l1.Len()
}

// Memo returns the cached result for key or computes it with fn. A nil cache
// always calls fn. Errors are never cached.
func Memo[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return fn(ctx)
	}
	if v, ok := c.l1.Get(key); ok {
		if t, ok := v.(T); ok {
			c.tel.CacheHit("lru")
			return t, nil
		}
	}
	if t, ok := remote[T](ctx, c, key); ok {
		c.tel.CacheHit("redis")
		c.l1.Add(key, t)
		return t, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.tel.CacheMiss()
		t, err := fn(ctx)
		if err != nil {
			return t, err
		}
		c.l1.Add(key, t)
		c.store(ctx, key, t)
		return t, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func remote[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var t T
	if c.l2 == nil {
		return t, false
	}
	b, err := c.l2.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return t, false
	}
	if err := json.Unmarshal(b, &t); err != nil {
		c.log.Warn("cache decode failed", zap.String("key", key), zap.Error(err))
		return t, false
	}
	return t, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.l2 == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.l2.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
