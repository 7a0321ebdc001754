package lookup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Guard collapses concurrent refreshes of the same device.
//
// Do runs fn at most once per key at a time. shared is true when this
// caller did not run fn itself. A shared caller may get a nil result, in
// which case it should re-read the store.
type Guard interface {
	Do(ctx context.Context, key string, fn func(context.Context) (*Result, error)) (res *Result, shared bool, err error)
}

// NoopGuard runs every refresh; concurrent lookups may all reach upstream.
type NoopGuard struct{}

func (NoopGuard) Do(ctx context.Context, _ string, fn func(context.Context) (*Result, error)) (*Result, bool, error) {
	res, err := fn(ctx)
	return res, false, err
}

// LocalGuard shares one in-flight refresh per device within this process.
type LocalGuard struct {
	group singleflight.Group
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

func (g *LocalGuard) Do(ctx context.Context, key string, fn func(context.Context) (*Result, error)) (*Result, bool, error) {
	v, err, shared := g.group.Do(key, func() (interface{}, error) {
		return fn(ctx)
	})
	res, _ := v.(*Result)
	return res, shared, err
}

const lockKeyPrefix = "lookup:lock:"

// Deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard takes a per-device advisory lock in Redis so that refreshes are
// collapsed across instances. Followers wait for the lock to clear and get a
// nil result. If Redis is unavailable the refresh runs unguarded.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{client: client, ttl: ttl, poll: 100 * time.Millisecond, logger: logger}
}

func (g *RedisGuard) Do(ctx context.Context, key string, fn func(context.Context) (*Result, error)) (*Result, bool, error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	acquired, err := g.client.SetNX(ctx, lockKey, token, g.ttl).Result()
	if err != nil {
		g.logger.Warn("lookup lock unavailable, refreshing unguarded", zap.String("key", key), zap.Error(err))
		res, err := fn(ctx)
		return res, false, err
	}

	if acquired {
		defer func() {
			if err := releaseScript.Run(context.WithoutCancel(ctx), g.client, []string{lockKey}, token).Err(); err != nil {
				g.logger.Warn("failed to release lookup lock", zap.String("key", key), zap.Error(err))
			}
		}()
		res, err := fn(ctx)
		return res, false, err
	}

	if err := g.wait(ctx, lockKey); err != nil {
		return nil, true, err
	}
	return nil, true, nil
}

// wait polls until the lock is gone or its TTL has elapsed.
func (g *RedisGuard) wait(ctx context.Context, lockKey string) error {
	deadline := time.Now().Add(g.ttl)
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := g.client.Exists(ctx, lockKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			g.logger.Warn("failed to poll lookup lock", zap.String("key", lockKey), zap.Error(err))
			return nil
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}
