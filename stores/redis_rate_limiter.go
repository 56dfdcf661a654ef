package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgecloud/grantor/logger"
)

// RedisRateLimiter implements grantor.RateLimiter with a fixed-window
// counter per user (key: ratelimit:{userID}:{window}). A Redis outage fails
// open: rate limiting protects capacity, it is not an authorization control,
// and denying all traffic on limiter downtime would invert that.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	log    logger.Logger
}

func NewRedisRateLimiter(client *redis.Client, limit int64, window time.Duration, log logger.Logger) *RedisRateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisRateLimiter{client: client, limit: limit, window: window, log: log}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, userID string) bool {
	key := r.key(userID, time.Now())
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.log.Error("rate limiter unavailable, allowing request", "user_id", userID, "error", err)
		return true
	}
	if count == 1 {
		// first hit in this window owns the expiry
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			r.log.Error("rate limiter expire failed", "user_id", userID, "error", err)
		}
	}
	return count <= r.limit
}

func (r *RedisRateLimiter) key(userID string, now time.Time) string {
	window := now.Unix() / int64(r.window/time.Second)
	return fmt.Sprintf("ratelimit:%s:%d", userID, window)
}
