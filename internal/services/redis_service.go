package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides the Redis connection used by the distributed dedup store
type RedisService struct {
	client *redis.Client
	mu     sync.RWMutex
}

// NewRedisService connects to redisURL and verifies the connection
func NewRedisService(ctx context.Context, redisURL string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	svc := NewRedisServiceFromClient(redis.NewClient(opts))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.Ping(pingCtx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")
	return svc, nil
}

// NewRedisServiceFromClient wraps an existing client
func NewRedisServiceFromClient(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

// Client returns the underlying Redis client
func (r *RedisService) Client() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

// Ping checks if Redis is healthy
func (r *RedisService) Ping(ctx context.Context) error {
	client := r.Client()
	if client == nil {
		return redis.ErrClosed
	}
	return client.Ping(ctx).Err()
}

// SetNX sets a key only if it doesn't exist
func (r *RedisService) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	client := r.Client()
	if client == nil {
		return false, redis.ErrClosed
	}
	return client.SetNX(ctx, key, value, expiration).Result()
}

// Delete removes keys
func (r *RedisService) Delete(ctx context.Context, keys ...string) error {
	client := r.Client()
	if client == nil {
		return redis.ErrClosed
	}
	return client.Del(ctx, keys...).Err()
}

// CountKeys counts keys matching pattern without blocking the server
func (r *RedisService) CountKeys(ctx context.Context, pattern string) (int, error) {
	client := r.Client()
	if client == nil {
		return 0, redis.ErrClosed
	}
	count := 0
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}
