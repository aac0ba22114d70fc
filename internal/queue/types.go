package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of deferred work. The ID is only used to correlate log
// lines and journal rows; the queue itself does not index by it.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewTask stamps a task with a fresh id and the current time.
func NewTask(kind string, payload json.RawMessage) Task {
	return Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is what a worker reports once a task has run.
type Outcome struct {
	TaskID      string
	Kind        string
	Status      Status
	Worker      int
	Error       string
	EnqueuedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the wall time the handler ran for.
func (o Outcome) Duration() time.Duration {
	return o.CompletedAt.Sub(o.StartedAt)
}
