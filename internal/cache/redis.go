package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to addr and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	log.Info("Connected to Redis", zap.String("addr", addr))
	return client, nil
}

var ErrLockTimeout = errors.New("timed out waiting for lock")

// Only the holder's token may delete the key.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a distributed mutex on Redis keys. It lets several API replicas
// serialise webhook processing for the same transaction.
type Locker struct {
	client redis.UniversalClient
	prefix string
	retry  time.Duration
	log    *zap.Logger
}

func NewLocker(client redis.UniversalClient, prefix string, log *zap.Logger) *Locker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{client: client, prefix: prefix, retry: 25 * time.Millisecond, log: log}
}

// Acquire blocks until the lock on key is held or ctx is done. The lock
// expires after ttl if the holder dies without releasing it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, name, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s: %v", ErrLockTimeout, name, ctx.Err())
		case <-ticker.C:
		}
	}

	release := func() {
		// The caller's ctx may already be cancelled; the key must still go.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(rctx, l.client, []string{name}, token).Err(); err != nil {
			l.log.Warn("Failed to release lock", zap.String("key", name), zap.Error(err))
		}
	}
	return release, nil
}
