package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "SHOPWORKER_CONFIG"

// Discover finds the config file to load. Priority order: explicit path,
// $SHOPWORKER_CONFIG, ~/.config/shopworker/config.yaml,
// /etc/shopworker/config.yaml, ./config.yaml. It returns "" when none exist;
// callers then run on Defaults.
func Discover(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, candidate := range candidatePaths() {
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func candidatePaths() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "shopworker", "config.yaml"))
	}
	return append(paths, "/etc/shopworker/config.yaml", "./config.yaml")
}

// LoadOrDefault loads the discovered config, or Defaults when nothing was found.
func LoadOrDefault(explicit string) (*Config, error) {
	path := Discover(explicit)
	if path == "" {
		return Defaults(), nil
	}
	return Load(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
