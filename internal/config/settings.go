package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Plugin struct {
		BasePath       string `json:"base_path"`
		TimeoutSeconds uint32 `json:"timeout_seconds"`
	} `json:"plugin"`

	Notification struct {
		Enabled        bool   `json:"enabled"`
		WebhookURL     string `json:"webhook_url"`
		TimeoutSeconds uint32 `json:"timeout_seconds"`
	} `json:"notification"`

	Sync struct {
		LockTTLSeconds uint32 `json:"lock_ttl_seconds"`
	} `json:"sync"`

	HealthCheck struct {
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule"`
	} `json:"health_check"`

	// OutboundBlacklist lists hosts the server must never call on behalf of an operator.
	OutboundBlacklist []string `json:"outbound_blacklist"`
}

const defaultPluginBasePath = "/wp-json/pagw/v1"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	settingsFilePath = "data/settings.json"

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic("config: embedded default settings are invalid: " + err.Error())
	}
	configValue.Store(cfg)
	updateWebsiteBlocklist(cfg.OutboundBlacklist)
}

// SetSettingsPath overrides the settings file location, mainly for tests and
// the SETTINGS_PATH env var.
func SetSettingsPath(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	settingsFilePath = path
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration", "path", settingsFilePath)

			if err = os.MkdirAll(filepath.Dir(settingsFilePath), 0o755); err != nil {
				log.Error("Error creating directory for settings file", "error", err)
				return
			}

			if err = os.WriteFile(settingsFilePath, defaultConfig, 0o644); err != nil {
				log.Error("Error writing default settings file", "error", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file", "error", err)
			return
		}
	}

	var newConfig Config
	if err = json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", settingsFilePath)
}

// SetConfig persists, stores and broadcasts a new configuration.
func SetConfig(newConfig Config) error {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		return err
	}

	log.Debug("Configuration updated and written to file successfully")
	return nil
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	newConfig.OutboundBlacklist = NormalizeWebsiteBlacklist(newConfig.OutboundBlacklist)
	newConfig.Plugin.BasePath = normalizeBasePath(newConfig.Plugin.BasePath)
	newConfig.Notification.WebhookURL = strings.TrimSpace(newConfig.Notification.WebhookURL)

	if opts.persistToFile {
		if err := writeSettingsFile(newConfig); err != nil {
			return err
		}
	}

	configValue.Store(newConfig)
	updateWebsiteBlocklist(newConfig.OutboundBlacklist)

	var errs []error

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			errs = append(errs, err)
		}
	}

	log.Debug("Configuration applied", "source", opts.source)

	return errors.Join(errs...)
}

// writeSettingsFile persists cfg before it goes live so a failed write
// leaves the previous configuration in place.
func writeSettingsFile(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(settingsFilePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(settingsFilePath, data, 0o644)
}

func normalizeBasePath(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return defaultPluginBasePath
	}
	return "/" + trimmed
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
