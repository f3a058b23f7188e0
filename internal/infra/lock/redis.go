// Package lock provides a redis-backed per-file lock for deployments running
// several service processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Client is the subset of a redis client used by RedisLocker.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Logger receives release failures.
type Logger interface {
	Warn(msg string, kv ...any)
}

// RedisLocker acquires SET NX PX leases. A lease outliving TTL expires on
// its own.
type RedisLocker struct {
	client Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger Logger
}

// NewRedisLocker returns a locker storing leases under prefix.
func NewRedisLocker(client Client, prefix string, ttl, retry time.Duration, logger Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl %s must be positive", ttl)
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: retry, logger: logger}, nil
}

// Lock blocks until the lease on key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", name, err)
		}
		if ok {
			return l.release(name, token), nil
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(name, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, releaseScript, []string{name}, token).Err(); err != nil && l.logger != nil {
			l.logger.Warn("release file lock", "key", name, "error", err)
		}
	}
}
