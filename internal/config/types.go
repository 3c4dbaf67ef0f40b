package config

import "time"

// Config holds all configuration for the daemon
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Probe   ProbeConfig   `yaml:"probe"`
	Breaker BreakerConfig `yaml:"breaker"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig locates the database and the device settings file
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	SettingsPath string `yaml:"settings_path"`
}

// ProbeConfig tunes the background latency tester
type ProbeConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BreakerConfig holds circuit breaker tuning keys. They are loaded with the
// rest of the config but not applied: the URL router builds every breaker
// from proxy.DefaultBreakerConfig.
type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	MinRequests        int           `yaml:"min_requests"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	Directory  string `yaml:"directory"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}
