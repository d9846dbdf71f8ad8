// Package redislock provides the asset lock table on Redis for deployments
// where several engine processes share one venue account.
package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"booner/internal/store"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "booner:lock:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client redis.UniversalClient
	prefix string
}

var _ store.LockTable = (*Locker)(nil)

func New(client redis.UniversalClient, prefix string) *Locker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Locker{client: client, prefix: prefix}
}

func (l *Locker) key(k string) string { return l.prefix + k }

// TryAcquireLock uses SET NX PX so the expiry is set atomically with the key.
func (l *Locker) TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redis lock not initialized")
	}
	ok, err := l.client.SetNX(ctx, l.key(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire %s: %w", key, err)
	}
	return ok, nil
}

func (l *Locker) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redis lock not initialized")
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, owner).Int64()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("redis lock release %s: %w", key, err)
	}
	return n == 1, nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
