package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"paygate/internal/app/bootstrap"
	"paygate/internal/app/server"
	"paygate/internal/app/version"
	"paygate/internal/auth"
	"paygate/internal/blocksync"
	"paygate/internal/config"
	"paygate/internal/database"
	"paygate/internal/jobs/maintenance"
	"paygate/internal/jobs/runtime"
	"paygate/internal/notify"
	"paygate/internal/ogdata"
	"paygate/internal/pluginapi"
	"paygate/internal/support"
)

const defaultBackendPort = 8082

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)
	log.Info("Starting paygate", "build", version.Get().String())

	backendPortFlag := flag.Int("backend-port", defaultBackendPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	hashPasswordFlag := flag.String("hash-password", "", "Print a bcrypt hash for VALID_PASSWORD and exit")
	flag.Parse()

	if *hashPasswordFlag != "" {
		hashed, err := auth.HashPassword(*hashPasswordFlag)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Println(hashed)
		return nil
	}

	config.SetProductionMode(*productionFlag)
	if config.InProductionMode {
		log.SetLevel(log.InfoLevel)
	}

	backendPort := resolvePort("BACKEND_PORT", "PORT", *backendPortFlag)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := support.GetRedisClient()
	switch {
	case errors.Is(err, support.ErrRedisDisabled):
		log.Warn("Redis disabled; sync lock, settings and site health stay local to this instance")
		redisClient = nil
	case err != nil:
		return fmt.Errorf("failed to get redis client: %w", err)
	default:
		defer func() {
			if err := support.CloseRedisClient(); err != nil {
				log.Warn("error closing redis client", "error", err)
			}
		}()
		heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient)
		defer heartbeatCancel()
	}

	bootstrap.Setup(ctx, redisClient)

	deps := buildDependencies(redisClient)

	go runtime.StartSiteHealthRoutine(ctx, &runtime.SiteHealthMonitor{
		Sites:  database.SiteRegistry{},
		Client: deps.Plugin,
		Store:  deps.HealthStore,
	}, redisClient != nil)
	go maintenance.StartSyncRunRetentionRoutine(ctx, database.DeleteSyncRunsBefore, redisClient != nil)

	return server.OpenRoutes(ctx, backendPort, deps)
}

func buildDependencies(redisClient *redis.Client) server.Dependencies {
	plugin := pluginapi.NewClient()

	var locker blocksync.Locker = blocksync.NewLocalLocker()
	var healthStore runtime.HealthStore = &runtime.MemoryHealthStore{}
	if redisClient != nil {
		locker = blocksync.NewRedisLocker(redisClient)
		healthStore = runtime.NewRedisHealthStore(redisClient)
	}

	synchronizer := blocksync.New(database.SiteRegistry{}, plugin,
		blocksync.WithNotifier(notify.NewWebhookNotifier()),
		blocksync.WithLocker(locker),
		blocksync.WithRecorder(database.SyncRunRecorder{}),
	)

	return server.Dependencies{
		Plugin:       plugin,
		Synchronizer: synchronizer,
		OGFetcher:    ogdata.NewFetcher(),
		HealthStore:  healthStore,
		Redis:        redisClient,
	}
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 || port > 65535 {
		log.Warn("Ignoring invalid port", "env", envKey, "value", raw)
		return 0
	}
	return port
}
