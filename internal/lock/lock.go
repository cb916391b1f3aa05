// Package lock provides short-lived mutual exclusion keyed by name, backed by
// redis across replicas or by an in-process semaphore for single-node setups.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/cache"
	"github.com/Additional-Code/foodpass/internal/config"
)

// ErrNotAcquired is returned when the lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Release gives the lock back. Releasing a lock that already expired is a no-op.
type Release func(ctx context.Context) error

// Locker hands out named locks.
type Locker interface {
	// Acquire blocks until key is held or ctx is done. ttl bounds how long a
	// crashed holder can keep the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Module provides the configured Locker to Fx.
var Module = fx.Provide(New)

// New builds the Locker selected by LOCK_DRIVER.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Locker, error) {
	switch cfg.Lock.Driver {
	case "local":
		logger.Info("using in-process locks")
		return NewLocal(), nil
	case "redis":
		client := cache.NewRedisClient(cfg.Cache.Redis)
		if err := cache.Instrument(client); err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("ping redis lock: %w", err)
				}
				logger.Info("redis lock connected", zap.String("addr", cfg.Cache.Redis.Addr))
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return NewRedis(client, "foodpass:lock:"), nil
	default:
		return nil, fmt.Errorf("unsupported lock driver: %s", cfg.Lock.Driver)
	}
}
