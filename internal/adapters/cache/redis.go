// Package cache holds the Redis client used for sweep leases and readiness checks.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a client and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}

// releaseScript deletes the lease only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// SweepLocker implements ports.SweepLocker with SET NX PX leases.
type SweepLocker struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewSweepLocker creates a locker; keys are "<prefix><name>".
func NewSweepLocker(client redis.UniversalClient, prefix string, logger *zap.Logger) *SweepLocker {
	if prefix == "" {
		prefix = "orchestrator:sweep:"
	}
	return &SweepLocker{client: client, prefix: prefix, logger: logger}
}

// TryLock implements ports.SweepLocker.
func (l *SweepLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lease %s: %w", key, err)
		}
		if released == 0 {
			l.logger.Warn("Sweep lease expired before release", zap.String("key", key))
		}
		return nil
	}
	return unlock, true, nil
}

var _ ports.SweepLocker = (*SweepLocker)(nil)
