package redis

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "vy"

// IdempotencyKey namespaces a stored response: vy:idempotency:<scope>:<id>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey("idempotency", scope, id)
}

// QueryCacheKey namespaces a cached availability answer.
func (c *Client) QueryCacheKey(fingerprint string) string {
	return joinKey("numbers", "query", fingerprint)
}

// LockKey scopes a worker lock to env so staging and prod never contend.
func (c *Client) LockKey(name, env string) string {
	if env == "" {
		env = "local"
	}
	return joinKey("lock", name, env)
}

func joinKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}

// IsMiss reports whether err is the redis "key not found" sentinel.
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
