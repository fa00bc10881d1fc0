package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "easel:mj:last_task:"

// RedisLastTasks keeps the last-task cache in redis so several daemons can
// share it. Expiry is left to redis.
type RedisLastTasks struct {
	rdb redis.UniversalClient
}

func NewRedisLastTasks(rdb redis.UniversalClient) *RedisLastTasks {
	return &RedisLastTasks{rdb: rdb}
}

func (r *RedisLastTasks) SetLastTask(ctx context.Context, userID, taskID string, ttl time.Duration) error {
	return r.rdb.Set(ctx, redisKeyPrefix+userID, taskID, ttl).Err()
}

func (r *RedisLastTasks) LastTask(ctx context.Context, userID string) (string, error) {
	v, err := r.rdb.Get(ctx, redisKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}
