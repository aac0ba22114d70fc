package dispatch

import (
	"log/slog"
	"time"

	"github.com/mattjoyce/shopworker/internal/events"
)

const (
	// DefaultPollInterval bounds how long an idle worker waits before
	// re-checking the shutdown flag.
	DefaultPollInterval = time.Second

	// DefaultJoinTimeout is how long Shutdown waits for each worker.
	DefaultJoinTimeout = 5 * time.Second

	// DefaultWorkers is the pool size used by the host when none is configured.
	DefaultWorkers = 3

	recordTimeout = 5 * time.Second
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets the idle poll interval. Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.pollInterval = d
		}
	}
}

// WithJoinTimeout sets the per-worker wait used by Shutdown. Non-positive values are ignored.
func WithJoinTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.joinTimeout = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(disp *Dispatcher) {
		if l != nil {
			disp.logger = l
		}
	}
}

// WithRecorder sets where task outcomes are reported.
func WithRecorder(r Recorder) Option {
	return func(disp *Dispatcher) {
		disp.recorder = r
	}
}

// WithEvents publishes lifecycle events to p.
func WithEvents(p events.Publisher) Option {
	return func(disp *Dispatcher) {
		if p != nil {
			disp.events = p
		}
	}
}
