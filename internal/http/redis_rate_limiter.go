package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisRateKeyPrefix   = "rsg:ratelimit:"
	redisRateCallTimeout = 250 * time.Millisecond
)

type redisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimiter builds a Redis backed limiter so replicas sharing an
// address share one budget per key. Redis errors fail open: a broken limiter
// must not take down the command surface.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{client: client, logger: logger}, nil
}

// Allow counts the request in a fixed window keyed by route and caller. The
// increment, window start and remaining TTL travel in one pipeline so a
// request costs a single round trip.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisRateCallTimeout)
	defer cancel()

	redisKey := redisRateKeyPrefix + key
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := rl.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, window)
		pttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		rl.fail(err)
		return rateDecision{allowed: true}
	}

	count := int(incr.Val())
	ttl := pttl.Val()
	if ttl <= 0 {
		ttl = window
	}
	return rateDecision{
		allowed:   count <= limit,
		count:     count,
		windowEnd: time.Now().Add(ttl),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) fail(err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "error", err)
}
