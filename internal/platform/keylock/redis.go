package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatflowers/stembill/pkg/tool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker built on SET NX PX with an owner token. The TTL bounds
// how long a crashed holder can block a key.
type Redis struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retry     time.Duration
	keyPrefix string
	log       *zap.SugaredLogger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, log *zap.SugaredLogger) *Redis {
	return &Redis{client: client, ttl: ttl, retry: 50 * time.Millisecond, keyPrefix: "stembill:lock:", log: log}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.keyPrefix + key
	token := tool.GenerateUUIDV7()
	deadline := time.Now().Add(r.ttl)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("keylock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release with a fresh context so a cancelled request still unlocks
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.log.Warnw("keylock: release failed, key will expire", "key", redisKey, "ttl", r.ttl, "err", err)
			}
		})
	}, nil
}
