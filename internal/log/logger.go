package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
	level  = new(slog.LevelVar)
	out    io.Closer
)

// Options controls the global logger. Zero value logs INFO as JSON to stdout.
type Options struct {
	Level  string
	Format string // "json" (default) or "text"
	File   string // optional; output is tee'd to stdout and this file
}

// Setup initializes the global logger.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(opts Options) error {
	var setupErr error
	once.Do(func() {
		level.Set(ParseLevel(opts.Level))

		var w io.Writer = os.Stdout
		if opts.File != "" {
			if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
				setupErr = fmt.Errorf("create log directory: %w", err)
			} else if f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
				setupErr = fmt.Errorf("open log file: %w", err)
			} else {
				w = io.MultiWriter(os.Stdout, f)
				out = f
			}
		}

		logger = slog.New(newHandler(w, opts.Format))
		slog.SetDefault(logger)
	})
	return setupErr
}

func newHandler(w io.Writer, format string) slog.Handler {
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, hopts)
	}
	return slog.NewJSONHandler(w, hopts)
}

// ParseLevel maps a config string onto a slog level, defaulting to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the level of the global logger at runtime.
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// Level reports the current global level.
func Level() slog.Level {
	return level.Level()
}

// Close releases the log file, if one was opened.
func Close() error {
	if out == nil {
		return nil
	}
	err := out.Close()
	out = nil
	return err
}

// Get returns the global logger, setting up the INFO/JSON default on first use.
func Get() *slog.Logger {
	_ = Setup(Options{Level: "INFO"})
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithTask returns a logger with the task_id field set.
func WithTask(id string) *slog.Logger {
	return Get().With(slog.String("task_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
