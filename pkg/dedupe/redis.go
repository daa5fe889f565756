package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares the recently-settled set across resolver replicas.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(addr string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "resolver:settled:",
	}
}

func (r *Redis) MarkSettled(ctx context.Context, id string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+id, "1", ttl).Err()
}

func (r *Redis) RecentlySettled(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Close() error { return r.client.Close() }
