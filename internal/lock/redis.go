package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"grit-ledger-api/pkg/uid"
)

// Lease and retry defaults.
const (
	DefaultLeaseTTL   = 30 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
)

var releaseIfOwnerScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared by every API instance pointing at the same
// Redis. Each key is a lease (SET NX PX) holding a random token; release only
// deletes keys still holding that token.
type RedisLocker struct {
	client     *redis.Client
	keyPrefix  string
	leaseTTL   time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// RedisLockerConfig holds configuration for RedisLocker.
type RedisLockerConfig struct {
	KeyPrefix  string
	LeaseTTL   time.Duration
	RetryDelay time.Duration
}

// NewRedisLocker creates a Redis-backed Locker.
func NewRedisLocker(client *redis.Client, cfg RedisLockerConfig, logger *slog.Logger) *RedisLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "grit:lock:"
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		leaseTTL:   cfg.LeaseTTL,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Lock takes a lease on every key, retrying until ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uid.New()
	held := make([]string, 0, len(keys))

	release := func() {
		// Release even if the caller's context is already cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for i := len(held) - 1; i >= 0; i-- {
			if err := releaseIfOwnerScript.Run(rctx, l.client, []string{held[i]}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "component", "lock", "key", held[i], "error", err)
			}
		}
	}

	for _, key := range keys {
		redisKey := l.keyPrefix + key
		if err := l.acquire(ctx, redisKey, token); err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		held = append(held, redisKey)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.leaseTTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to set lease: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ensure RedisLocker implements Locker
var _ Locker = (*RedisLocker)(nil)
