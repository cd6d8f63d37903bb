package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rf-almeida/cortegrid/internal/model"
)

// Redis stores each user's bookings as a single JSON blob with a TTL, so
// abandoned sessions age out on their own.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Load(ctx context.Context, key string) ([]model.Booking, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var bookings []model.Booking
	if err := json.Unmarshal([]byte(val), &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *Redis) Save(ctx context.Context, key string, bookings []model.Booking) error {
	data, err := json.Marshal(bookings)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, r.ttl).Err()
}

func (r *Redis) Rotate(ctx context.Context, oldKey, newKey string, bookings []model.Booking) error {
	if oldKey != "" && oldKey != newKey {
		if err := r.client.Del(ctx, oldKey).Err(); err != nil {
			return err
		}
	}
	return r.Save(ctx, newKey, bookings)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// ReadyCheck adapts the cache to a readiness probe.
func ReadyCheck(r *Redis) func(context.Context) error {
	return func(ctx context.Context) error {
		if r == nil {
			return errors.New("redis not configured")
		}
		return r.Ping(ctx)
	}
}
