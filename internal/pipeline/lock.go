package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const runLockKey = "medwatch:run_lock"

// RedisLock serializes runs across processes with a SET NX key. The TTL
// bounds how long a crashed holder can block the next run.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewRedisLock(client *redis.Client, ttl time.Duration, logger *log.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl, logger: logger}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, runLockKey, "1", l.ttl).Result()
}

func (l *RedisLock) Release(ctx context.Context) {
	if err := l.client.Del(ctx, runLockKey).Err(); err != nil {
		l.logger.Printf("release run lock: %v", err)
	}
}
