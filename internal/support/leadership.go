package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL   = 45 * time.Second
	leadershipRetryDelay   = time.Second
	renewalTimeout         = 5 * time.Second
	minRenewalInterval     = time.Second
	defaultRenewalFraction = 3
)

var (
	lockCounter atomic.Uint64

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// Lock is a held redis lock. It is renewed in the background until Release
// is called or a renewal fails, at which point Context is cancelled.
type Lock struct {
	client    *redis.Client
	key       string
	value     string
	ttl       time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	stopRenew chan struct{}
	closeOnce sync.Once
}

// TryLock makes a single SET NX attempt. It returns (nil, nil) when another
// holder owns the key.
func TryLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	if client == nil {
		return nil, errors.New("support: lock redis client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	value := generateLockID()
	ok, err := client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("support: setnx %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	lockCtx, cancel := context.WithCancel(ctx)
	l := &Lock{
		client:    client,
		key:       key,
		value:     value,
		ttl:       ttl,
		ctx:       lockCtx,
		cancel:    cancel,
		stopRenew: make(chan struct{}),
	}
	go l.renewLoop()
	return l, nil
}

// Context is cancelled when the lock is lost or released.
func (l *Lock) Context() context.Context {
	return l.ctx
}

func (l *Lock) Release() {
	l.closeOnce.Do(func() {
		close(l.stopRenew)
		l.cancel()
		if err := l.releaseLock(); err != nil {
			log.Warn("redis lock: release failed", "key", l.key, "error", err)
		}
	})
}

// RunWithLeader acquires a Redis-based leadership lock and invokes run while the
// lock is held. The run function is provided a context that is cancelled when
// leadership is lost or the parent context is done. When run returns the lock
// is released and acquisition starts over, until the parent context is done.
func RunWithLeader(ctx context.Context, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	client, err := GetRedisClient()
	if err != nil {
		return fmt.Errorf("support: leader lock redis client: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lock, err := TryLock(ctx, client, key, ttl)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("leader lock: failed to acquire", "key", key, "error", err)
		}

		if lock != nil {
			log.Debug("leader lock: acquired", "key", key)
			run(lock.Context())
			lock.Release()
			log.Debug("leader lock: released", "key", key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leadershipRetryDelay):
		}
	}
}

func (l *Lock) renewLoop() {
	interval := l.ttl / defaultRenewalFraction
	if interval < minRenewalInterval {
		interval = minRenewalInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopRenew:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.renewLock(); err != nil {
				log.Warn("redis lock: renewal failed", "key", l.key, "error", err)
				l.cancel()
				return
			}
		}
	}
}

func (l *Lock) renewLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}

	if updated, ok := res.(int64); ok && updated == 0 {
		return errors.New("lock lost")
	}

	return nil
}

func (l *Lock) releaseLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func generateLockID() string {
	host, _ := os.Hostname()
	counter := lockCounter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), counter)
}
