package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica that talks to the same Redis.
// Each key is a SET NX PX entry holding a random token; the TTL bounds how
// long a crashed holder can keep it.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	poll   time.Duration
	log    *zap.Logger
}

// NewRedis creates a Redis locker. Keys are stored as prefix+key.
func NewRedis(rdb redis.Cmdable, prefix string, ttl time.Duration, log *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, poll: 200 * time.Millisecond, log: log}
}

func (r *Redis) TryLock(ctx context.Context, key string) (Unlock, bool, error) {
	token := uuid.NewString()
	full := r.prefix + key
	ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: setnx %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	return r.unlocker(full, token), true, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		unlock, ok, err := r.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Redis) unlocker(key, token string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			// the holder's ctx may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
				r.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
