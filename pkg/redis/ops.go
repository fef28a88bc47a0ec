package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDeleteSource removes KEYS[1] only while it still holds ARGV[1].
const compareAndDeleteSource = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

var compareAndDelete = redis.NewScript(compareAndDeleteSource)

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.store == nil {
		return errNotConnected
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil for a missing key; see IsMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errNotConnected
	}
	return c.store.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotConnected
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errNotConnected
	}
	return c.store.Del(ctx, keys...).Err()
}

// DelIfValue deletes key only if it still holds value. A lock whose lease
// lapsed and was taken by another worker is left alone.
func (c *Client) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	if c.store == nil {
		return false, errNotConnected
	}
	n, err := compareAndDelete.Run(ctx, c.store, []string{key}, value).Int64()
	return n == 1, err
}
