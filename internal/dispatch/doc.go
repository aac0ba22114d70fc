// Package dispatch runs the in-process background worker pool.
//
// A Dispatcher owns a task queue, a fixed set of worker goroutines and the
// shutdown flag. Producers hand it opaque tasks through Enqueue; each worker
// claims one task at a time from the queue and runs it to completion before
// claiming the next.
//
// Worker loop:
//   - If the shutdown flag is set, stop.
//   - Wait up to the poll interval (default 1s) for a task. An empty poll is
//     not an error; it only bounds how long an idle worker takes to notice
//     shutdown.
//   - Run the handler synchronously, then mark the task done.
//
// Failure handling:
//   - A handler error or panic fails that one task only. It is logged,
//     reported to the Recorder as failed, and the worker keeps polling.
//   - Handlers are never retried and never cancelled once started.
//
// Lifecycle:
//   - Start(n) spawns exactly n workers and may only be called once.
//   - Shutdown sets the flag exactly once, then waits for each worker in turn,
//     up to the join timeout (default 5s) per worker. A worker that overruns
//     is abandoned, not killed; its in-flight task may be lost when the
//     process exits.
//   - Done is closed once Shutdown has finished. The dispatcher never exits
//     the process and knows nothing about OS signals; the host wires those.
package dispatch
