package bootstrap

import (
	"context"

	"paygate/internal/config"
	"paygate/internal/database"
	"paygate/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Setup loads settings and opens the database. redisClient may be nil.
func Setup(ctx context.Context, redisClient *redis.Client) {
	config.SetSettingsPath(support.GetEnv("SETTINGS_PATH", ""))
	config.ReadSettings()

	if redisClient != nil {
		config.EnableRedisSynchronization(ctx, redisClient)
	}

	if _, err := database.SetupDB(); err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}
}
