package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "service:\n  log_level: info\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, logger, func(cfg *Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  log_level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.Service.LogLevel != "debug" {
			t.Errorf("reloaded LogLevel = %q, want debug", cfg.Service.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchKeepsPreviousConfigOnInvalidEdit(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "service:\n  log_level: info\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, logger, func(cfg *Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("pool:\n  workers: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		t.Fatalf("invalid config should not be applied, got %+v", cfg.Pool)
	case <-time.After(time.Second):
	}
}
