package blocksync

import (
	"context"
	"sync"

	"paygate/internal/config"
	"paygate/internal/support"

	"github.com/redis/go-redis/v9"
)

const syncLockKey = "paygate:blocksync:lock"

// Locker guards against two bulk runs pushing to the fleet at once.
type Locker interface {
	// TryAcquire returns acquired=false without error when another run holds the lock.
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}

// LocalLocker serialises runs inside one process.
type LocalLocker struct {
	mu sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// RedisLocker serialises runs across instances sharing a redis server.
type RedisLocker struct {
	client *redis.Client
	key    string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, key: syncLockKey}
}

func (l *RedisLocker) TryAcquire(ctx context.Context) (func(), bool, error) {
	lock, err := support.TryLock(ctx, l.client, l.key, config.SyncLockTTL())
	if err != nil {
		return nil, false, err
	}
	if lock == nil {
		return nil, false, nil
	}
	return lock.Release, true, nil
}
