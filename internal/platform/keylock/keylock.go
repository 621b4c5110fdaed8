// Package keylock serializes work per key, e.g. all webhook events for one
// Stripe customer.
package keylock

import (
	"context"
	"errors"
	"time"

	"github.com/fatflowers/stembill/pkg/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrLockTimeout = errors.New("keylock: timed out waiting for lock")

// Locker hands out exclusive per-key locks. The returned unlock func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const defaultTTL = 30 * time.Second

// New picks the redis locker when redis is configured, otherwise the
// in-process one. The in-process locker is only correct for a single replica.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (Locker, error) {
	if cfg.Redis.Addr == "" {
		log.Infow("redis not configured, using in-process key locks")
		return NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	ttl := cfg.Redis.LockTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	log.Infow("using redis key locks", "addr", cfg.Redis.Addr, "ttl", ttl)
	return NewRedis(client, ttl, log), nil
}

var Module = fx.Options(
	fx.Provide(New),
)
