package rateLimit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/tigertix/internal/adapters/redis"
)

// RateLimiter is a fixed-window counter per key. A nil *RateLimiter allows
// everything.
type RateLimiter struct {
	redis  *redisadapter.Cache
	rate   int
	period time.Duration
}

func NewRateLimiter(redis *redisadapter.Cache, rate int, period time.Duration) *RateLimiter {
	if redis == nil || rate <= 0 {
		return nil
	}
	return &RateLimiter{redis: redis, rate: rate, period: period}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl == nil {
		return true, nil
	}
	fullKey := "rl:" + key

	pipe := rl.redis.Client().TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, rl.period)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "rate limit counter")
	}

	return incr.Val() <= int64(rl.rate), nil
}
