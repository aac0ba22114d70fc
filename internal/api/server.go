package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/shopworker/internal/dispatch"
	"github.com/mattjoyce/shopworker/internal/events"
	"github.com/mattjoyce/shopworker/internal/journal"
	"github.com/mattjoyce/shopworker/internal/queue"
)

// TaskDispatcher is the producer side of the worker pool.
type TaskDispatcher interface {
	Enqueue(kind string, payload json.RawMessage) queue.Task
	Stats() dispatch.Stats
	ShuttingDown() bool
}

// KindRegistry reports which task kinds have a handler.
type KindRegistry interface {
	Has(kind string) bool
	Kinds() []string
}

// OutcomeLog reads recorded task outcomes.
type OutcomeLog interface {
	Recent(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
	Get(ctx context.Context, taskID string) (*journal.Entry, error)
}

// EventSource streams lifecycle events.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen       string
	MaxBodyBytes int64
}

// Server is the HTTP front door for producers and operators.
type Server struct {
	config     Config
	dispatcher TaskDispatcher
	kinds      KindRegistry
	journal    OutcomeLog
	events     EventSource
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance. journal may be nil when the
// outcome journal is disabled.
func New(config Config, dispatcher TaskDispatcher, kinds KindRegistry, journal OutcomeLog, events EventSource, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		kinds:      kinds,
		journal:    journal,
		events:     events,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	// Event streams never go idle on their own; cancelling their base
	// context at shutdown lets http.Server.Shutdown finish.
	streamCtx, endStreams := context.WithCancel(context.Background())
	defer endStreams()

	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}
	s.server.RegisterOnShutdown(endStreams)

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Post("/tasks/{kind}", s.handleEnqueue)
	r.Get("/tasks/log", s.handleTaskLog)
	r.Get("/tasks/log/{taskID}", s.handleGetTask)

	r.Get("/events", s.handleEvents)
	r.Get("/events/ws", s.handleEventsWS)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
