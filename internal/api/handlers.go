package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/shopworker/internal/journal"
	"github.com/mattjoyce/shopworker/internal/queue"
)

// handleHealthz reports pool state. It answers 503 once shutdown has begun
// so load balancers stop sending producers here.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.dispatcher.Stats()

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    stats.QueueDepth,
		Pending:       stats.Pending,
		Workers:       stats.Workers,
		Started:       stats.Started,
		Succeeded:     stats.Succeeded,
		Failed:        stats.Failed,
		Kinds:         s.kinds.Kinds(),
	}
	code := http.StatusOK
	if stats.ShuttingDown {
		resp.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

// handleEnqueue handles POST /tasks/{kind}. The request body, if any, is the
// task payload and must be JSON. The response only confirms the task was
// queued; the outcome is visible later through /tasks/log.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if !s.kinds.Has(kind) {
		s.writeError(w, http.StatusBadRequest, "unknown task kind: "+kind)
		return
	}
	if s.dispatcher.ShuttingDown() {
		s.writeError(w, http.StatusServiceUnavailable, "worker pool is shutting down")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var payload json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			s.writeError(w, http.StatusBadRequest, "payload must be valid JSON")
			return
		}
		payload = body
	}

	task := s.dispatcher.Enqueue(kind, payload)
	respondJSON(w, http.StatusAccepted, TaskResponse{
		TaskID:     task.ID,
		Kind:       task.Kind,
		Status:     "queued",
		EnqueuedAt: task.EnqueuedAt,
	})
}

// handleTaskLog handles GET /tasks/log?kind=&status=&limit=.
func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "task journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Kind:   q.Get("kind"),
		Status: queue.Status(q.Get("status")),
	}
	if filter.Status != "" && filter.Status != queue.StatusSucceeded && filter.Status != queue.StatusFailed {
		s.writeError(w, http.StatusBadRequest, "status must be succeeded or failed")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.journal.Recent(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to read task journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read task journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// handleGetTask handles GET /tasks/log/{taskID}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "task journal is disabled")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	entry, err := s.journal.Get(r.Context(), taskID)
	if errors.Is(err, sql.ErrNoRows) {
		// Either unknown or still queued/running; the journal only holds finished tasks.
		s.writeError(w, http.StatusNotFound, "no outcome recorded for task "+taskID)
		return
	}
	if err != nil {
		s.logger.Error("failed to read task outcome", "task_id", taskID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read task outcome")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.kinds.Kinds()))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
