package config

import "time"

const (
	defaultPluginTimeout       = 30 * time.Second
	defaultNotificationTimeout = 15 * time.Second
	defaultSyncLockTTL         = 2 * time.Minute
)

func secondsOr(seconds uint32, fallback time.Duration) time.Duration {
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// PluginTimeout bounds a single call to a site's plugin API.
func PluginTimeout() time.Duration {
	return secondsOr(GetConfig().Plugin.TimeoutSeconds, defaultPluginTimeout)
}

func NotificationTimeout() time.Duration {
	return secondsOr(GetConfig().Notification.TimeoutSeconds, defaultNotificationTimeout)
}

func SyncLockTTL() time.Duration {
	return secondsOr(GetConfig().Sync.LockTTLSeconds, defaultSyncLockTTL)
}
