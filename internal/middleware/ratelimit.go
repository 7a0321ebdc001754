package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/pkg/clientip"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitKeyPrefix is the Redis key prefix for per-IP counters
const RateLimitKeyPrefix = "ratelimit:"

// RedisLimiter is a fixed-window counter per client IP shared by all
// instances. It fails open when Redis is unavailable.
type RedisLimiter struct {
	client     *redis.Client
	limit      int
	window     time.Duration
	trustProxy bool
	logger     *zap.Logger
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, trustProxy bool, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, limit: limit, window: window, trustProxy: trustProxy, logger: logger}
}

func (l *RedisLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := RateLimitKeyPrefix + clientip.FromRequest(r, l.trustProxy)

		count, err := l.client.Incr(ctx, key).Result()
		if err != nil {
			l.logger.Warn("rate limit counter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
				l.logger.Warn("failed to set rate limit window", zap.Error(err))
			}
		}

		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}

		remaining := l.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

		if int(count) > l.limit {
			tooManyRequests(w, int((ttl+time.Second-1)/time.Second))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, retryAfter int) {
	body, _ := json.Marshal(map[string]interface{}{
		"error":      "Too many requests. Please slow down.",
		"retryAfter": retryAfter,
	})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write(body)
}
