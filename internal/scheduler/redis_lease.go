package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tartampluch/greeter-service/internal/apperr"
)

// RedisLease implements Lease with a single SET key value NX PX ttl command:
// the simplest correct distributed mutual-exclusion primitive, sufficient
// here since losing the race is an explicit no-op, not a correctness bug.
type RedisLease struct {
	client *redis.Client
}

// NewRedisLease builds a RedisLease against an already-configured client.
func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

// TryAcquire attempts to set key with the constant value "1" (nothing ever
// reads it back) and a TTL, returning whether this call won the race.
func (r *RedisLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, apperr.Wrap(err, apperr.TypeTransient, "failed to acquire redis lease")
	}
	return ok, nil
}
