package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/shopworker/internal/api"
	"github.com/mattjoyce/shopworker/internal/config"
	"github.com/mattjoyce/shopworker/internal/dispatch"
	"github.com/mattjoyce/shopworker/internal/events"
	"github.com/mattjoyce/shopworker/internal/journal"
	"github.com/mattjoyce/shopworker/internal/lock"
	"github.com/mattjoyce/shopworker/internal/log"
	"github.com/mattjoyce/shopworker/internal/queue"
	"github.com/mattjoyce/shopworker/internal/storage"
	"github.com/mattjoyce/shopworker/internal/tasks"
)

const pruneInterval = time.Hour

// app is one running shopworker process: the pool plus everything hung off it.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pidLock  *lock.PIDLock
	db       *sql.DB
	journal  *journal.Journal
	hub      *events.Hub
	registry *tasks.Registry
	disp     *dispatch.Dispatcher
	api      *api.Server
}

// newApp acquires the host lock, opens storage and builds the dispatcher.
// Nothing runs until run is called.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: log.WithComponent("main"),
		hub:    events.NewHub(256),
	}

	pidLock, err := lock.AcquirePIDLock(cfg.Lock.Path)
	if err != nil {
		return nil, fmt.Errorf("acquire PID lock: %w", err)
	}
	a.pidLock = pidLock
	a.logger.Info("acquired PID lock", "path", cfg.Lock.Path)

	opts := []dispatch.Option{
		dispatch.WithPollInterval(cfg.Pool.PollInterval),
		dispatch.WithJoinTimeout(cfg.Pool.JoinTimeout),
		dispatch.WithEvents(a.hub),
		dispatch.WithLogger(log.WithComponent("dispatch")),
	}

	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.db = db
		a.journal = journal.New(db)
		opts = append(opts, dispatch.WithRecorder(a.journal))
		a.logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	a.registry = tasks.NewRegistry()
	if err := tasks.RegisterBuiltins(a.registry, cfg.Pool.TaskDelay); err != nil {
		a.close()
		return nil, fmt.Errorf("register task handlers: %w", err)
	}

	a.disp = dispatch.New(queue.New(), a.registry, opts...)

	if cfg.API.Enabled {
		var outcomes api.OutcomeLog
		if a.journal != nil {
			outcomes = a.journal
		}
		a.api = api.New(api.Config{Listen: cfg.API.Listen}, a.disp, a.registry, outcomes, a.hub, log.WithComponent("api"))
	}
	return a, nil
}

// run starts the pool and auxiliary servers, then blocks until ctx ends (the
// shutdown signal) or a component fails. Either way the pool is shut down
// before run returns.
func (a *app) run(ctx context.Context) error {
	if err := a.disp.Start(a.cfg.Pool.Workers); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	auxCtx, stopAux := context.WithCancel(context.Background())
	defer stopAux()

	errCh := make(chan error, 2)
	auxDone := make(chan struct{})
	pending := 0

	if a.api != nil {
		pending++
		go func() {
			defer func() { auxDone <- struct{}{} }()
			if err := a.api.Start(auxCtx); err != nil {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		a.logger.Info("API server enabled", "listen", a.cfg.API.Listen)
	}

	if a.journal != nil && a.cfg.Journal.Retention > 0 {
		pending++
		go func() {
			defer func() { auxDone <- struct{}{} }()
			a.pruneLoop(auxCtx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case err := <-errCh:
		a.logger.Error("component failed", "error", err)
		runErr = err
	}

	report := a.disp.Shutdown(context.Background())
	if !report.Clean() {
		a.logger.Warn("workers abandoned during shutdown; their tasks may be lost", "workers", report.Abandoned)
	}

	stopAux()
	for ; pending > 0; pending-- {
		<-auxDone
	}
	return runErr
}

func (a *app) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		a.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) prune(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.Journal.Retention)
	n, err := a.journal.Prune(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Warn("journal prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		a.logger.Info("journal pruned", "removed", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
}

// close releases storage and the host lock. Safe on a partially built app.
func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close journal", "error", err)
		}
		a.db = nil
	}
	if err := a.pidLock.Release(); err != nil {
		a.logger.Warn("failed to release PID lock", "error", err)
	}
}
