package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/shopworker/internal/api"
	"github.com/mattjoyce/shopworker/internal/config"
	"github.com/mattjoyce/shopworker/internal/journal"
	"github.com/mattjoyce/shopworker/internal/queue"
	"github.com/mattjoyce/shopworker/internal/storage"
	"github.com/mattjoyce/shopworker/internal/tui/watch"
)

// splitPositional separates leading positional args from flags so that
// `enqueue simulate '{}' --api URL` parses like `enqueue --api URL simulate '{}'`.
func splitPositional(args []string) (positional, flags []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
			if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(arg) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positional = append(positional, arg)
	}
	return positional, flags
}

func isBoolFlag(arg string) bool {
	switch strings.TrimLeft(arg, "-") {
	case "json", "dry-run", "v", "verbose":
		return true
	}
	return false
}

func runEnqueue(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: shopworker enqueue <kind> [json-payload] [--api URL] [--config PATH]")
		return 0
	}

	positional, flagArgs := splitPositional(args)
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	apiURL := fs.String("api", "", "Base URL of a running shopworker API (default: from api.listen)")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}

	if len(positional) < 1 || len(positional) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: shopworker enqueue <kind> [json-payload] [--api URL]")
		return 1
	}
	kind := positional[0]
	var payload []byte
	if len(positional) == 2 {
		payload = []byte(positional[1])
		if !json.Valid(payload) {
			fmt.Fprintln(os.Stderr, "Payload must be valid JSON")
			return 1
		}
	}

	base, err := resolveAPIURL(*apiURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := postTask(ctx, base, kind, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enqueue failed: %v\n", err)
		return 1
	}
	fmt.Printf("queued %s task %s\n", resp.Kind, resp.TaskID)
	return 0
}

// resolveAPIURL returns explicit if set, else the configured api.listen.
func resolveAPIURL(explicit, configPath string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return "", err
	}
	return "http://" + cfg.API.Listen, nil
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	apiURL := fs.String("api", "", "Base URL of a running shopworker API (default: from api.listen)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	base, err := resolveAPIURL(*apiURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(base), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func postTask(ctx context.Context, base, kind string, payload []byte) (*api.TaskResponse, error) {
	url := strings.TrimRight(base, "/") + "/tasks/" + kind
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out api.TaskResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runTasksNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Println("Usage: shopworker tasks log [--kind KIND] [--status succeeded|failed] [--limit N] [--json] [--config PATH]")
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "log":
		return runTasksLog(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown tasks action: %s\n", args[0])
		return 1
	}
}

func runTasksLog(args []string) int {
	fs := flag.NewFlagSet("tasks log", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	kind := fs.String("kind", "", "Only show this task kind")
	status := fs.String("status", "", "Only show succeeded or failed tasks")
	limit := fs.Int("limit", 20, "Maximum rows")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	st := queue.Status(*status)
	if st != "" && st != queue.StatusSucceeded && st != queue.StatusFailed {
		fmt.Fprintf(os.Stderr, "Invalid --status %q: must be succeeded or failed\n", *status)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.Journal.Enabled {
		fmt.Fprintln(os.Stderr, "Task journal is disabled (journal.enabled: false)")
		return 1
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		fmt.Fprintf(os.Stderr, "No journal at %s\n", cfg.Journal.Path)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLiteReadOnly(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()

	j := journal.New(db)
	entries, err := j.Recent(ctx, journal.Filter{
		Kind:   *kind,
		Status: st,
		Limit:  *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []journal.Entry{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(entries)
		return 0
	}
	printEntries(os.Stdout, entries)
	if counts, err := j.Counts(ctx); err == nil {
		fmt.Printf("\njournal totals: succeeded=%d failed=%d\n",
			counts[queue.StatusSucceeded], counts[queue.StatusFailed])
	}
	return 0
}

func printEntries(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no task outcomes recorded")
		return
	}
	fmt.Fprintf(w, "%-36s  %-14s  %-9s  %-6s  %-10s  %s\n", "TASK", "KIND", "STATUS", "WORKER", "DURATION", "COMPLETED")
	for _, e := range entries {
		fmt.Fprintf(w, "%-36s  %-14s  %-9s  %-6d  %-10s  %s\n",
			e.TaskID, e.Kind, e.Status, e.Worker,
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			e.CompletedAt.Local().Format(time.DateTime))
		if e.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", firstLine(e.Error))
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
