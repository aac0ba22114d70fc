package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/shopworker/internal/config"
	"github.com/mattjoyce/shopworker/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: shopworker config <action> [--config PATH]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  check    Validate syntax, values, integrity hash and host preflight (--json)")
	fmt.Fprintln(w, "  lock     Write the config file hash to .checksums (--dry-run, -v)")
	fmt.Fprintln(w, "  show     Print the effective configuration as YAML")
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output preflight result as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := config.Discover(*configPath)
	var cfg *config.Config
	if path == "" {
		cfg = config.Defaults()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		if !result.Valid {
			return 1
		}
		return 0
	}

	if cfg.SourcePath == "" {
		fmt.Println("No config file found; checking built-in defaults.")
	} else {
		fmt.Printf("Configuration valid: %s\n", cfg.SourcePath)
	}
	fmt.Printf("  workers=%d poll_interval=%s join_timeout=%s\n",
		cfg.Pool.Workers, cfg.Pool.PollInterval, cfg.Pool.JoinTimeout)
	for _, w := range result.Warnings {
		fmt.Printf("  warning [%s] %s\n", w.Field, w.Message)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  error [%s] %s\n", e.Field, e.Message)
	}
	if !result.Valid {
		fmt.Fprintln(os.Stderr, "Preflight failed")
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dryRun := fs.Bool("dry-run", false, "Compute the hash without writing .checksums")
	verbose := fs.Bool("v", false, "Print the computed hash")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := config.Discover(*configPath)
	if path == "" {
		fmt.Fprintln(os.Stderr, "No config file found to lock")
		return 1
	}

	// Refuse to bless a file that would not load anyway.
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}
	if _, err := config.Parse(data); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}

	report, err := config.LockConfigFile(path, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	if *verbose || *dryRun {
		fmt.Printf("%s  %s\n", report.Hash, report.ConfigPath)
	}
	if report.Written {
		fmt.Printf("Wrote %s\n", report.ChecksumPath)
	} else {
		fmt.Println("Dry run: .checksums not written")
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	if cfg.SourcePath != "" {
		fmt.Printf("# source: %s\n", cfg.SourcePath)
	} else {
		fmt.Println("# source: built-in defaults")
	}
	fmt.Print(string(out))
	return 0
}
