// Package cache wraps github.com/redis/go-redis/v9 with the JSON
// get/set/setex, sorted-set pagination, and pub/sub primitives the
// Position & P&L Monitor (C9) and Alert Store & Publisher (C10) are built
// on, grounded on original_source's redis.asyncio usage in
// monitors/position_monitor.py and services/alert_service.py, and on the
// cache.RedisClient wrapper shape in nofendian17-stockbit-haka-haki.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a *redis.Client with typed JSON helpers. The key prefix
// mirrors the original's `settings.redis_prefix` convention.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects to the given Redis address (host:port) with the given
// logical key prefix.
func New(addr, password string, db int, prefix string) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
	}
}

// Ping verifies connectivity, used at process startup.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += p
	}
	return k
}

// SetJSON marshals v and stores it at key with the given TTL (0 = no
// expiry), matching the original's `redis.setex(key, ttl, json.dumps(...))`.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	if ttl <= 0 {
		return c.rdb.Set(ctx, c.key(key), buf, 0).Err()
	}
	return c.rdb.SetEx(ctx, c.key(key), buf, ttl).Err()
}

// GetJSON fetches key and unmarshals it into dest. Returns (false, nil) on
// a cache miss — mirrors the original's `if not data: return None` pattern.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Expire sets or refreshes a key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, c.key(key), ttl).Err()
}

// ZAdd adds member with score to a sorted set, used for the per-user alert
// index (`alerts:list:{user_id}` in the original).
func (c *Client) ZAdd(ctx context.Context, key, member string, score float64) error {
	return c.rdb.ZAdd(ctx, c.key(key), redis.Z{Score: score, Member: member}).Err()
}

// ZRevRange returns members in [start,stop] ordered by descending score —
// the original's reverse-chronological alert pagination.
func (c *Client) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.ZRevRange(ctx, c.key(key), start, stop).Result()
}

// ZCard returns the sorted set's cardinality (total alert count for
// pagination's `total` field).
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, c.key(key)).Result()
}

// ZRemRangeByScore trims entries with score <= cutoff — the original's
// `clear_old_alerts` TTL sweep.
func (c *Client) ZRemRangeByScore(ctx context.Context, key string, cutoff float64) (int64, error) {
	return c.rdb.ZRemRangeByScore(ctx, c.key(key), "-inf", fmt.Sprintf("%f", cutoff)).Result()
}

// ScanUsers iterates all keys matching the caller's glob (e.g. "users:*")
// under the configured prefix, mirroring `_check_all_positions`'s `scan_iter`.
func (c *Client) ScanUsers(ctx context.Context, glob string) ([]string, error) {
	var out []string
	iter := c.rdb.Scan(ctx, 0, c.key(glob), 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

// Incr increments a counter key (used for the order-frequency rolling
// window) and returns the post-increment value.
func (c *Client) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, c.key(key))
	pipe.Expire(ctx, c.key(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Publish broadcasts a JSON-encoded message on channel — used by the Alert
// Publisher to fan out new alerts to subscribed control-plane connections.
func (c *Client) Publish(ctx context.Context, channel string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, channel, buf).Err()
}

// Subscribe returns a PubSub handle for channel; callers read from
// .Channel().
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channel)
}
