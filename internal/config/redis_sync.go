package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisConfigKey     = "paygate:config:settings"
	redisConfigChannel = "paygate:config:updates"
	redisOpTimeout     = 5 * time.Second
)

type redisSyncState struct {
	mu     sync.RWMutex
	client *redis.Client
	ctx    context.Context
}

var globalRedisSync redisSyncState

// EnableRedisSynchronization shares settings between instances. The redis copy
// wins on startup; if none exists the local settings are published.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	globalRedisSync.mu.Lock()
	if globalRedisSync.client != nil {
		globalRedisSync.mu.Unlock()
		return
	}
	globalRedisSync.client = client
	globalRedisSync.ctx = ctx
	globalRedisSync.mu.Unlock()

	loaded, err := loadConfigFromRedis(ctx, client)
	if err != nil {
		log.Error("Config sync: failed to load configuration from redis", "error", err)
	}

	if !loaded {
		if err := publishCurrentConfig(); err != nil {
			log.Error("Config sync: failed to publish configuration to redis", "error", err)
		}
	}

	go subscribeToConfigUpdates(ctx, client)
}

func publishCurrentConfig() error {
	payload, err := json.Marshal(GetConfig())
	if err != nil {
		return err
	}
	return broadcastConfigUpdate(payload)
}

func loadConfigFromRedis(ctx context.Context, client *redis.Client) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := client.Get(opCtx, redisConfigKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, applyRemotePayload(payload)
}

func applyRemotePayload(payload []byte) error {
	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return err
	}
	return applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, source: "redis"})
}

func subscribeToConfigUpdates(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, redisConfigChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if err := applyRemotePayload([]byte(msg.Payload)); err != nil {
			log.Error("Config sync: failed to apply remote update", "error", err)
		}
	}
}

func broadcastConfigUpdate(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	globalRedisSync.mu.RLock()
	client := globalRedisSync.client
	baseCtx := globalRedisSync.ctx
	globalRedisSync.mu.RUnlock()

	if client == nil {
		return nil
	}

	if baseCtx == nil || baseCtx.Err() != nil {
		baseCtx = context.Background()
	}

	opCtx, cancel := context.WithTimeout(baseCtx, redisOpTimeout)
	defer cancel()

	_, err := client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, redisConfigKey, payload, 0)
		pipe.Publish(opCtx, redisConfigChannel, payload)
		return nil
	})
	return err
}
