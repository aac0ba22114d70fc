package api

import (
	"time"

	"github.com/mattjoyce/shopworker/internal/dispatch"
)

// TaskResponse is returned by POST /tasks/{kind} once the task is queued.
type TaskResponse struct {
	TaskID     string    `json:"task_id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	QueueDepth    int                    `json:"queue_depth"`
	Pending       int                    `json:"pending"`
	Workers       []dispatch.WorkerStats `json:"workers"`
	Started       int64                  `json:"tasks_started"`
	Succeeded     int64                  `json:"tasks_succeeded"`
	Failed        int64                  `json:"tasks_failed"`
	Kinds         []string               `json:"kinds"`
}
