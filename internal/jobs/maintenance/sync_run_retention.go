package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"paygate/internal/support"
)

const (
	envPruneInterval        = "SYNC_RUN_PRUNE_INTERVAL"
	envPruneIntervalMinutes = "SYNC_RUN_PRUNE_INTERVAL_MINUTES"
	envRetentionDays        = "SYNC_RUN_RETENTION_DAYS"

	defaultPruneMinutes  = 60
	defaultRetentionDays = 90
	syncRunPruneLockKey  = "paygate:leader:sync_run_prune"
)

// PruneFunc deletes audit rows older than cutoff and reports how many went.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// StartSyncRunRetentionRoutine prunes old sync runs until ctx is done. With
// useLeader only the redis leader prunes.
func StartSyncRunRetentionRoutine(ctx context.Context, prune PruneFunc, useLeader bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !useLeader {
		runPruneLoop(ctx, prune)
		return
	}

	err := support.RunWithLeader(ctx, syncRunPruneLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runPruneLoop(leaderCtx, prune)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Sync run retention routine stopped", "error", err)
	}
}

func runPruneLoop(ctx context.Context, prune PruneFunc) {
	interval := resolvePruneInterval()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	PruneSyncRuns(ctx, prune, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			PruneSyncRuns(ctx, prune, now)
		}
	}
}

func resolvePruneInterval() time.Duration {
	if raw := support.GetEnv(envPruneInterval, ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
		log.Warn("Invalid SYNC_RUN_PRUNE_INTERVAL value, falling back to minutes env", "value", raw)
	}

	minutes := support.GetEnvInt(envPruneIntervalMinutes, defaultPruneMinutes)
	if minutes <= 0 {
		minutes = defaultPruneMinutes
	}

	return time.Duration(minutes) * time.Minute
}

// RetentionWindow is how long sync runs are kept. Zero disables pruning.
func RetentionWindow() time.Duration {
	days := support.GetEnvInt(envRetentionDays, defaultRetentionDays)
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// PruneSyncRuns removes runs older than the retention window relative to now.
func PruneSyncRuns(ctx context.Context, prune PruneFunc, now time.Time) int64 {
	window := RetentionWindow()
	if window == 0 {
		return 0
	}

	start := time.Now()
	removed, err := prune(ctx, now.Add(-window))
	if err != nil {
		log.Error("Failed to prune sync runs", "error", err)
		return 0
	}
	if removed == 0 {
		return 0
	}

	log.Info("Sync run pruning completed", "runs_removed", removed, "duration", time.Since(start))
	return removed
}
