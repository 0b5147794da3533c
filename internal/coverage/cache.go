package coverage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/topology"
)

// DefaultCacheTTL is used when the configured ttl is not positive.
const DefaultCacheTTL = 5 * time.Minute

// Key identifies one cached coverage answer. Version is the tenant
// topology version the answer was computed against.
type Key struct {
	Tenant       string
	Version      int64
	Point        geo.Point
	CustomerType string
}

// Cache stores coverage results per topology version. Bumping a tenant's
// version makes every older entry unreachable.
type Cache interface {
	Version(ctx context.Context, tenant string) (int64, error)
	Get(ctx context.Context, k Key) (*Result, bool, error)
	Set(ctx context.Context, k Key, r *Result) error
	Bump(ctx context.Context, tenant string) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps client. Keys are namespaced under prefix.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = "netmap"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisCache) versionKey(tenant string) string {
	return c.prefix + ":coverage:" + url.QueryEscape(tenant) + ":version"
}

func (c *RedisCache) entryKey(k Key) string {
	return fmt.Sprintf("%s:coverage:%s:v%d:%s:%s:%s",
		c.prefix,
		url.QueryEscape(k.Tenant),
		k.Version,
		strconv.FormatFloat(k.Point.Lng, 'f', -1, 64),
		strconv.FormatFloat(k.Point.Lat, 'f', -1, 64),
		url.QueryEscape(k.CustomerType),
	)
}

// Version returns the tenant topology version, zero before the first bump.
func (c *RedisCache) Version(ctx context.Context, tenant string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(tenant)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCache) Get(ctx context.Context, k Key) (*Result, bool, error) {
	data, err := c.client.Get(ctx, c.entryKey(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, fmt.Errorf("decode cached coverage: %w", err)
	}
	return &r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, k Key, r *Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(k), data, c.ttl).Err()
}

// Bump advances the tenant version.
func (c *RedisCache) Bump(ctx context.Context, tenant string) error {
	return c.client.Incr(ctx, c.versionKey(tenant)).Err()
}

// Invalidator bumps the cache version after every committed topology
// change.
type Invalidator struct {
	Cache Cache
}

func (i Invalidator) TopologyChanged(ctx context.Context, c topology.Change) error {
	if err := i.Cache.Bump(ctx, c.Tenant); err != nil {
		return fmt.Errorf("bump coverage cache version: %w", err)
	}
	return nil
}
