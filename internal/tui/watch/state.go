package watch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mattjoyce/shopworker/internal/api"
	"github.com/mattjoyce/shopworker/internal/dispatch"
	"github.com/mattjoyce/shopworker/internal/events"
)

const (
	maxTasks  = 50
	maxEvents = 50
)

// TaskState is one task as seen through the event stream.
type TaskState struct {
	ID       string
	Kind     string
	Status   string
	Worker   int
	Started  time.Time
	Duration time.Duration
	Error    string
}

// PoolState is everything the view renders. It is rebuilt from /healthz
// snapshots and patched by individual events in between.
type PoolState struct {
	Health       api.HealthzResponse
	Workers      map[int]string
	Tasks        map[string]*TaskState
	order        []string // task ids, newest first
	Events       []events.Event
	LastEventID  int64
	ShuttingDown bool
}

func newPoolState() *PoolState {
	return &PoolState{
		Workers: make(map[int]string),
		Tasks:   make(map[string]*TaskState),
	}
}

// eventData is the union of the fields the dispatcher puts on its events.
type eventData struct {
	TaskID     string `json:"task_id"`
	Kind       string `json:"kind"`
	Worker     int    `json:"worker"`
	Workers    int    `json:"workers"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error"`
}

// ApplyHealth replaces counters and worker states with a /healthz snapshot.
func (s *PoolState) ApplyHealth(h api.HealthzResponse) {
	s.Health = h
	s.ShuttingDown = h.Status == "shutting_down"
	for _, w := range h.Workers {
		s.Workers[w.ID] = workerLabel(w)
	}
}

func workerLabel(w dispatch.WorkerStats) string {
	if w.State != "running" {
		return w.State
	}
	if w.Busy {
		return "busy"
	}
	return "idle"
}

// ApplyEvent folds one lifecycle event into the state. Events at or below
// LastEventID were already applied and are ignored, so a replay after a
// reconnect is harmless.
func (s *PoolState) ApplyEvent(e events.Event) {
	if e.ID != 0 && e.ID <= s.LastEventID {
		return
	}
	if e.ID != 0 {
		s.LastEventID = e.ID
	}

	s.Events = append([]events.Event{e}, s.Events...)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[:maxEvents]
	}

	var d eventData
	_ = json.Unmarshal(e.Data, &d)

	switch e.Type {
	case events.PoolStarted:
		s.ShuttingDown = false
		for i := 1; i <= d.Workers; i++ {
			s.Workers[i] = "idle"
		}

	case events.TaskEnqueued:
		s.task(d.TaskID, d.Kind).Status = "queued"
		s.Health.QueueDepth++
		s.Health.Pending++

	case events.TaskStarted:
		t := s.task(d.TaskID, d.Kind)
		t.Status = "running"
		t.Worker = d.Worker
		t.Started = e.At
		s.Workers[d.Worker] = "busy"
		s.Health.Started++
		if s.Health.QueueDepth > 0 {
			s.Health.QueueDepth--
		}

	case events.TaskSucceeded, events.TaskFailed:
		t := s.task(d.TaskID, d.Kind)
		t.Worker = d.Worker
		t.Duration = time.Duration(d.DurationMS) * time.Millisecond
		if e.Type == events.TaskFailed {
			t.Status = "failed"
			t.Error = d.Error
			s.Health.Failed++
		} else {
			t.Status = "succeeded"
			s.Health.Succeeded++
		}
		if s.Workers[d.Worker] == "busy" {
			s.Workers[d.Worker] = "idle"
		}
		if s.Health.Pending > 0 {
			s.Health.Pending--
		}

	case events.ShutdownStarted:
		s.ShuttingDown = true
		for id, st := range s.Workers {
			if st == "idle" || st == "busy" {
				s.Workers[id] = "stopping"
			}
		}

	case events.WorkerStopped:
		s.Workers[d.Worker] = "stopped"

	case events.WorkerAbandoned:
		s.Workers[d.Worker] = "abandoned"
	}
}

// task returns the tracked task with id, creating it at the head of the
// recent list. The oldest entries fall off past maxTasks.
func (s *PoolState) task(id, kind string) *TaskState {
	if t, ok := s.Tasks[id]; ok {
		if kind != "" {
			t.Kind = kind
		}
		return t
	}
	t := &TaskState{ID: id, Kind: kind}
	s.Tasks[id] = t
	s.order = append([]string{id}, s.order...)
	if len(s.order) > maxTasks {
		for _, old := range s.order[maxTasks:] {
			delete(s.Tasks, old)
		}
		s.order = s.order[:maxTasks]
	}
	return t
}

// RecentTasks returns tracked tasks, newest first.
func (s *PoolState) RecentTasks() []*TaskState {
	out := make([]*TaskState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.Tasks[id])
	}
	return out
}

// WorkerIDs returns the known worker ids in ascending order.
func (s *PoolState) WorkerIDs() []int {
	ids := make([]int, 0, len(s.Workers))
	for id := range s.Workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
