// Пакет cache предоставляет обёртку для работы с Redis как кешем
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss возвращается, когда запрошенный ключ отсутствует в кеше Redis.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient: кеш поверх *redis.Client с единым TTL для всех записей.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создаёт RedisClient; ttl применяется ко всем записям Set
func NewRedisClient(opts *redis.Options, ttl time.Duration) *RedisClient {
	return &RedisClient{client: redis.NewClient(opts), ttl: ttl}
}

// Set сохраняет value под ключом key на время TTL
func (r *RedisClient) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Get возвращает значение по ключу или ErrCacheMiss, если ключа нет
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	return data, nil
}

// Invalidate удаляет ключи одной командой DEL
func (r *RedisClient) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis, используется в /readyz
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединения с Redis
func (r *RedisClient) Close() error {
	return r.client.Close()
}
