package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/shopworker/internal/events"
	"github.com/mattjoyce/shopworker/internal/log"
	"github.com/mattjoyce/shopworker/internal/queue"
)

type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerStopping
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type worker struct {
	id    int
	state atomic.Int32
	busy  atomic.Bool
	done  chan struct{}
}

// Dispatcher owns the queue, the workers and the shutdown flag. Create one
// per process with New; there is no package-level instance.
type Dispatcher struct {
	queue    *queue.Queue
	handler  Handler
	recorder Recorder
	events   events.Publisher
	logger   *slog.Logger

	pollInterval time.Duration
	joinTimeout  time.Duration

	mu      sync.Mutex
	started bool
	workers []*worker

	// claim orders "worker takes a task" against "shutdown flag set": once
	// Shutdown holds it exclusively no worker can start a new task.
	claim    sync.RWMutex
	shutdown atomic.Bool

	pollCtx     context.Context
	stopPolling context.CancelFunc

	shutdownOnce sync.Once
	report       ShutdownReport
	done         chan struct{}

	nStarted   atomic.Int64
	nSucceeded atomic.Int64
	nFailed    atomic.Int64
}

// ShutdownReport describes how the pool went down.
type ShutdownReport struct {
	Stopped   []int         `json:"stopped"`
	Abandoned []int         `json:"abandoned"`
	Remaining int           `json:"remaining"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Clean reports whether every worker finished inside its join timeout.
func (r ShutdownReport) Clean() bool {
	return len(r.Abandoned) == 0
}

type WorkerStats struct {
	ID    int    `json:"id"`
	State string `json:"state"`
	Busy  bool   `json:"busy"`
}

type Stats struct {
	Workers      []WorkerStats `json:"workers"`
	QueueDepth   int           `json:"queue_depth"`
	Pending      int           `json:"pending"`
	Started      int64         `json:"started"`
	Succeeded    int64         `json:"succeeded"`
	Failed       int64         `json:"failed"`
	ShuttingDown bool          `json:"shutting_down"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// New builds a dispatcher that pulls from q and runs tasks through h.
// No workers run until Start.
func New(q *queue.Queue, h Handler, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:        q,
		handler:      h,
		events:       nopPublisher{},
		logger:       log.WithComponent("dispatch"),
		pollInterval: DefaultPollInterval,
		joinTimeout:  DefaultJoinTimeout,
		pollCtx:      ctx,
		stopPolling:  cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start spawns exactly n workers. It fails if the pool was already started,
// has been shut down, or n is not positive; in all those cases no worker is
// spawned.
func (d *Dispatcher) Start(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.shutdown.Load():
		return ErrShutdown
	case d.started:
		return ErrAlreadyStarted
	case n <= 0:
		return ErrInvalidWorkerCount
	}

	d.started = true
	d.workers = make([]*worker, n)
	for i := range d.workers {
		w := &worker{id: i + 1, done: make(chan struct{})}
		d.workers[i] = w
		go d.run(w)
	}

	d.logger.Info("starting worker pool",
		"workers", n,
		"poll_interval", d.pollInterval.String(),
		"join_timeout", d.joinTimeout.String(),
	)
	d.events.Publish(events.PoolStarted, map[string]any{"workers": n})
	return nil
}

// Enqueue wraps payload in a new task and queues it. It never blocks and
// never fails.
func (d *Dispatcher) Enqueue(kind string, payload json.RawMessage) queue.Task {
	t := queue.NewTask(kind, payload)
	d.EnqueueTask(t)
	return t
}

// EnqueueTask queues an already-built task. Tasks accepted after shutdown
// stay in the queue and are never run.
func (d *Dispatcher) EnqueueTask(t queue.Task) {
	// Published first so subscribers never see task.started before task.enqueued.
	d.events.Publish(events.TaskEnqueued, map[string]any{"task_id": t.ID, "kind": t.Kind})
	d.queue.Enqueue(t)

	if d.shutdown.Load() {
		d.logger.Warn("task enqueued after shutdown; it will not run", "task_id", t.ID, "kind", t.Kind)
		return
	}
	d.logger.Debug("task enqueued", "task_id", t.ID, "kind", t.Kind, "queue_depth", d.queue.Len())
}

// Wait blocks until every enqueued task has finished, or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	return d.queue.Join(ctx)
}

// Done is closed once Shutdown has completed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// ShuttingDown reports whether the shutdown flag is set.
func (d *Dispatcher) ShuttingDown() bool {
	return d.shutdown.Load()
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	workers := d.workers
	d.mu.Unlock()

	s := Stats{
		Workers:      make([]WorkerStats, 0, len(workers)),
		QueueDepth:   d.queue.Len(),
		Pending:      d.queue.Pending(),
		Started:      d.nStarted.Load(),
		Succeeded:    d.nSucceeded.Load(),
		Failed:       d.nFailed.Load(),
		ShuttingDown: d.shutdown.Load(),
	}
	for _, w := range workers {
		s.Workers = append(s.Workers, WorkerStats{
			ID:    w.id,
			State: WorkerState(w.state.Load()).String(),
			Busy:  w.busy.Load(),
		})
	}
	return s
}

// Shutdown sets the shutdown flag and waits for each worker in turn, giving
// each up to the join timeout. Workers that overrun are abandoned and keep
// running in the background. Tasks still queued are left where they are.
//
// Shutdown runs once; later calls wait for the first and return its report.
// If ctx ends early the remaining workers are abandoned without waiting.
func (d *Dispatcher) Shutdown(ctx context.Context) ShutdownReport {
	d.shutdownOnce.Do(func() {
		d.report = d.shutdownPool(ctx)
		close(d.done)
	})
	return d.report
}

func (d *Dispatcher) shutdownPool(ctx context.Context) ShutdownReport {
	begin := time.Now()

	d.mu.Lock()
	d.claim.Lock()
	d.shutdown.Store(true)
	d.claim.Unlock()
	workers := d.workers
	d.mu.Unlock()

	// Wake idle workers now rather than at the end of their poll.
	d.stopPolling()

	d.logger.Info("graceful shutdown initiated", "workers", len(workers), "queue_depth", d.queue.Len())
	d.events.Publish(events.ShutdownStarted, map[string]any{"workers": len(workers)})

	var report ShutdownReport
	for _, w := range workers {
		if d.join(ctx, w) {
			report.Stopped = append(report.Stopped, w.id)
			d.logger.Info("worker stopped", "worker", w.id)
			d.events.Publish(events.WorkerStopped, map[string]any{"worker": w.id})
			continue
		}
		report.Abandoned = append(report.Abandoned, w.id)
		d.logger.Warn("worker did not stop within join timeout; abandoning",
			"worker", w.id,
			"join_timeout", d.joinTimeout.String(),
			"busy", w.busy.Load(),
		)
		d.events.Publish(events.WorkerAbandoned, map[string]any{"worker": w.id})
	}

	report.Remaining = d.queue.Len()
	report.Elapsed = time.Since(begin)

	d.logger.Info("shutdown complete",
		"stopped", len(report.Stopped),
		"abandoned", len(report.Abandoned),
		"remaining", report.Remaining,
		"elapsed", report.Elapsed.String(),
	)
	d.events.Publish(events.ShutdownCompleted, report)
	return report
}

func (d *Dispatcher) join(ctx context.Context, w *worker) bool {
	timer := time.NewTimer(d.joinTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) run(w *worker) {
	logger := d.logger.With("worker", w.id)
	defer close(w.done)
	defer w.state.Store(int32(WorkerStopped))

	logger.Debug("worker started")
	for !d.shutdown.Load() {
		t, ok := d.queue.Dequeue(d.pollCtx, d.pollInterval)
		if !ok {
			continue
		}

		d.claim.RLock()
		if d.shutdown.Load() {
			d.claim.RUnlock()
			d.queue.Requeue(t)
			break
		}
		w.busy.Store(true)
		d.claim.RUnlock()

		d.execute(w, t)

		w.busy.Store(false)
		d.queue.Done()
	}
	w.state.Store(int32(WorkerStopping))
	logger.Debug("worker exiting")
}

func (d *Dispatcher) execute(w *worker, t queue.Task) {
	logger := d.logger.With("worker", w.id, "task_id", t.ID, "kind", t.Kind)

	d.nStarted.Add(1)
	o := queue.Outcome{
		TaskID:     t.ID,
		Kind:       t.Kind,
		Worker:     w.id,
		EnqueuedAt: t.EnqueuedAt,
		StartedAt:  time.Now().UTC(),
	}
	logger.Info("task started", "queue_depth", d.queue.Len())
	d.events.Publish(events.TaskStarted, map[string]any{"task_id": t.ID, "kind": t.Kind, "worker": w.id})

	err := d.invoke(t)
	o.CompletedAt = time.Now().UTC()

	data := map[string]any{
		"task_id":     t.ID,
		"kind":        t.Kind,
		"worker":      w.id,
		"duration_ms": o.Duration().Milliseconds(),
	}
	if err != nil {
		d.nFailed.Add(1)
		o.Status = queue.StatusFailed
		o.Error = err.Error()
		data["error"] = o.Error

		var pe *PanicError
		if errors.As(err, &pe) {
			logger.Error("task panicked", "error", err, "stack", string(pe.Stack))
		} else {
			logger.Error("task failed", "error", err, "duration", o.Duration().String())
		}
		d.events.Publish(events.TaskFailed, data)
	} else {
		d.nSucceeded.Add(1)
		o.Status = queue.StatusSucceeded
		logger.Info("task finished", "duration", o.Duration().String(), "queue_depth", d.queue.Len())
		d.events.Publish(events.TaskSucceeded, data)
	}

	d.record(logger, o)
}

// invoke runs the handler with a context that shutdown never cancels.
func (d *Dispatcher) invoke(t queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return d.handler.Handle(context.Background(), t)
}

func (d *Dispatcher) record(logger *slog.Logger, o queue.Outcome) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.recorder.Record(ctx, o); err != nil {
		logger.Warn("failed to record task outcome", "error", err)
	}
}
