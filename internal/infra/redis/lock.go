package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockNotAcquired is returned by TryLock when another instance holds the key.
var ErrLockNotAcquired = errors.New("lock held by another instance")

// releaseScript deletes the key only while it still carries the caller's token, so a holder
// whose TTL ran out cannot release a lock another instance took over.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])`)

// RedisLocker is a single-attempt SETNX lock used to run a scheduled tick on one instance.
type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

// TryLock returns the ownership token, or ErrLockNotAcquired without waiting.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	acquired, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	switch {
	case err != nil:
		return "", err
	case !acquired:
		return "", ErrLockNotAcquired
	}
	return token, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.cli, []string{key}, token).Err()
}
