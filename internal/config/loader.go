package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, hash-verifies and validates a config file.
// Fields absent from the file keep their Defaults values.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes YAML on top of Defaults, expands ${VAR} references and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults fills values that were explicitly blanked in the file.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Pool.PollInterval == 0 {
		cfg.Pool.PollInterval = defaults.Pool.PollInterval
	}
	if cfg.Pool.JoinTimeout == 0 {
		cfg.Pool.JoinTimeout = defaults.Pool.JoinTimeout
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.Lock.Path == "" {
		cfg.Lock.Path = defaults.Lock.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	for field, value := range map[string]string{
		"service.name":     cfg.Service.Name,
		"service.log_file": cfg.Service.LogFile,
		"api.listen":       cfg.API.Listen,
		"journal.path":     cfg.Journal.Path,
		"lock.path":        cfg.Lock.Path,
	} {
		if m := envVarPattern.FindStringSubmatch(value); m != nil {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be positive (got %d)", cfg.Pool.Workers)
	}
	if cfg.Pool.PollInterval < 0 {
		return fmt.Errorf("pool.poll_interval must be positive")
	}
	if cfg.Pool.JoinTimeout < 0 {
		return fmt.Errorf("pool.join_timeout must be positive")
	}
	if cfg.Pool.TaskDelay < 0 {
		return fmt.Errorf("pool.task_delay must not be negative")
	}

	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}
	return nil
}
