package config

import "time"

// Config represents the complete shopworker configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Pool    PoolConfig    `yaml:"pool"`
	API     APIConfig     `yaml:"api"`
	Journal JournalConfig `yaml:"journal"`
	Lock    LockConfig    `yaml:"lock"`

	// SourcePath is the file the config was loaded from; empty for built-in defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// PoolConfig sizes the worker pool. The pool is never resized after start.
type PoolConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	TaskDelay    time.Duration `yaml:"task_delay"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// JournalConfig defines where task outcomes are kept.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

type LockConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with the values used when nothing is configured.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "shopworker",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Pool: PoolConfig{
			Workers:      3,
			PollInterval: time.Second,
			JoinTimeout:  5 * time.Second,
			TaskDelay:    2 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8081",
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      "./data/shopworker.db",
			Retention: 7 * 24 * time.Hour,
		},
		Lock: LockConfig{
			Path: "./data/shopworker.lock",
		},
	}
}
