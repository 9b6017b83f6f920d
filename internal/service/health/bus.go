package health

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

// RedisBusChecker reports reachability of a Redis-backed message bus.
type RedisBusChecker struct {
	client *redis.Client
}

// NewRedisBusChecker builds a checker for the given bus address.
func NewRedisBusChecker(addr, password string, db int) *RedisBusChecker {
	return &RedisBusChecker{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// CheckBus pings the bus.
func (c *RedisBusChecker) CheckBus(ctx context.Context) domain.BusHealth {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return domain.BusHealth{Status: domain.HealthUnhealthy, Detail: err.Error()}
	}
	return domain.BusHealth{Status: domain.HealthHealthy}
}

var _ BusChecker = (*RedisBusChecker)(nil)
