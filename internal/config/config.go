package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultConfigName = "switchboard"
	EnvPrefix         = "SWITCHBOARD"

	DefaultProbeInterval    = 5 * time.Minute
	DefaultProbeConcurrency = 8
	DefaultProbeTimeout     = 10 * time.Second

	DefaultFileWriteDelay = 150 * time.Millisecond // debounce: editors write in bursts
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	baseDir := filepath.Join(home, ".switchboard")

	return &Config{
		Storage: StorageConfig{
			DatabasePath: filepath.Join(baseDir, "switchboard.db"),
			SettingsPath: filepath.Join(baseDir, "settings.json"),
		},
		Probe: ProbeConfig{
			Interval:    DefaultProbeInterval,
			Concurrency: DefaultProbeConcurrency,
			Timeout:     DefaultProbeTimeout,
		},
		Breaker: BreakerConfig{
			FailureThreshold:   3,
			SuccessThreshold:   2,
			Timeout:            30 * time.Second,
			ErrorRateThreshold: 0.5,
			MinRequests:        5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			Directory:  filepath.Join(baseDir, "logs"),
			FileOutput: true,
			PrettyLogs: true,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
		},
	}
}

// Load reads configuration from file (when present) and environment,
// layered over the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".switchboard"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine; defaults plus env apply.
	}

	cfg := DefaultConfig()
	// The config types carry yaml tags; decode by them so keys such as
	// "pretty_logs" reach their fields.
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Watch reloads the config file on change and hands the result to onChange.
// Reloads are debounced: editors produce several write events per save.
func Watch(configPath string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(configPath); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", configPath, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				reloadMutex.Lock()
				if time.Since(lastReload) < DefaultFileWriteDelay {
					reloadMutex.Unlock()
					continue
				}
				lastReload = time.Now()
				reloadMutex.Unlock()

				time.Sleep(DefaultFileWriteDelay)
				if cfg, err := Load(configPath); err == nil {
					onChange(cfg)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}

func applyDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("storage.database_path", defaults.Storage.DatabasePath)
	v.SetDefault("storage.settings_path", defaults.Storage.SettingsPath)

	v.SetDefault("probe.interval", defaults.Probe.Interval)
	v.SetDefault("probe.concurrency", defaults.Probe.Concurrency)
	v.SetDefault("probe.timeout", defaults.Probe.Timeout)

	v.SetDefault("breaker.failure_threshold", defaults.Breaker.FailureThreshold)
	v.SetDefault("breaker.success_threshold", defaults.Breaker.SuccessThreshold)
	v.SetDefault("breaker.timeout", defaults.Breaker.Timeout)
	v.SetDefault("breaker.error_rate_threshold", defaults.Breaker.ErrorRateThreshold)
	v.SetDefault("breaker.min_requests", defaults.Breaker.MinRequests)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.theme", defaults.Logging.Theme)
	v.SetDefault("logging.directory", defaults.Logging.Directory)
	v.SetDefault("logging.file_output", defaults.Logging.FileOutput)
	v.SetDefault("logging.pretty_logs", defaults.Logging.PrettyLogs)
	v.SetDefault("logging.max_size", defaults.Logging.MaxSize)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.max_age", defaults.Logging.MaxAge)
}
