package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLockPrefix = "tutorhub:chat_lock:"

// RedisLocker межпроцессная блокировка создания чатов поверх SET NX PX.
// TTL страхует от зависших держателей: упавший процесс не блокирует тройку
// навсегда.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire пытается взять блокировку. false — её держит другой процесс.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, redisLockPrefix+key, "1", ttl).Result()
}

// Release отпускает блокировку
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, redisLockPrefix+key).Err()
}
