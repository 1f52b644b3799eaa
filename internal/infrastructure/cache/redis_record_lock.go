// Package cache provides record lock implementations that serialize
// concurrent processing of the same billing record.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/billingapp/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock key only when it still holds this owner's
// token, so an expired lock taken over by another worker is never released
// by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisRecordLock implements billing.RecordLock using Redis SET NX with a
// TTL. This is suitable for distributed deployments where multiple workers
// may receive duplicate deliveries of the same record.
type RedisRecordLock struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// Ensure RedisRecordLock implements billing.RecordLock
var _ billing.RecordLock = (*RedisRecordLock)(nil)

// NewRedisRecordLock creates a new Redis-backed record lock
func NewRedisRecordLock(cfg RedisConfig, logger *zap.Logger) (*RedisRecordLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRecordLockWithClient(client, "", logger), nil
}

// NewRedisRecordLockWithClient creates a lock with an existing Redis client.
// This is useful for testing or when sharing a client across components.
func NewRedisRecordLockWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisRecordLock {
	if keyPrefix == "" {
		keyPrefix = "billing:record:lock:"
	}
	return &RedisRecordLock{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

// Acquire takes the lock for key with the given TTL. The returned release
// function is safe to call regardless of whether the lock was acquired.
func (l *RedisRecordLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	acquired, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("failed to acquire lock for %s: %w", key, err)
	}
	if !acquired {
		return func() {}, false, nil
	}

	release := func() {
		// Release outlives the caller's context so cancellation does not
		// leave the lock held until TTL expiry.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("failed to release record lock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return release, true, nil
}

// Close closes the Redis client
func (l *RedisRecordLock) Close() error {
	return l.client.Close()
}
