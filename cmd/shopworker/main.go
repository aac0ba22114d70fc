package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/shopworker/internal/config"
	"github.com/mattjoyce/shopworker/internal/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "enqueue":
		os.Exit(runEnqueue(args))
	case "tasks":
		os.Exit(runTasksNoun(args))
	case "watch":
		os.Exit(runWatch(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("shopworker version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`shopworker - background task worker pool for the shop backend

Usage:
  shopworker <command> [flags]

Commands:
  start                    Run the worker pool in the foreground
  enqueue <kind> [json]    Queue a task on a running instance
  tasks log                Show recent task outcomes from the journal
  watch                    Live terminal view of a running pool
  config check             Validate configuration and integrity
  config lock              Record the config file hash in .checksums
  config show              Print the effective configuration
  version                  Show version information
  help                     Show this help message

Common flags:
  --config PATH            Config file (default: discovered, see below)

Config discovery: --config, $SHOPWORKER_CONFIG, ~/.config/shopworker/config.yaml,
/etc/shopworker/config.yaml, ./config.yaml, else built-in defaults.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	workers := fs.Int("workers", 0, "Override pool.workers")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *workers > 0 {
		cfg.Pool.Workers = *workers
	}

	if err := log.Setup(log.Options{
		Level:  cfg.Service.LogLevel,
		Format: cfg.Service.LogFormat,
		File:   cfg.Service.LogFile,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer log.Close()

	logger := log.WithComponent("main")
	source := cfg.SourcePath
	if source == "" {
		source = "built-in defaults"
	}
	logger.Info("shopworker starting", "version", version, "config", source, "workers", cfg.Pool.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}
	defer a.close()

	if cfg.SourcePath != "" {
		err := config.Watch(ctx, cfg.SourcePath, log.WithComponent("config"), func(next *config.Config) {
			if log.ParseLevel(next.Service.LogLevel) != log.Level() {
				log.SetLevel(next.Service.LogLevel)
				logger.Info("log level changed", "from", cfg.Service.LogLevel, "to", next.Service.LogLevel)
				cfg.Service.LogLevel = next.Service.LogLevel
			}
			if next.Pool.Workers != cfg.Pool.Workers {
				logger.Warn("pool.workers changed; restart to apply", "running", cfg.Pool.Workers, "configured", next.Pool.Workers)
			}
		})
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		}
	}

	logger.Info("shopworker running (press Ctrl+C to stop)")
	if err := a.run(ctx); err != nil {
		return 1
	}

	log.Info("shopworker stopped")
	return 0
}
