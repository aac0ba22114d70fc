package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattjoyce/shopworker/internal/queue"
)

const (
	maxErrorBytes = 16 * 1024
	defaultLimit  = 50
	maxLimit      = 1000

	// Fixed width so ORDER BY on the text column sorts chronologically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Journal persists task outcomes so producers can look up what happened to
// fire-and-forget work after the fact.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Entry is one row of the task log.
type Entry struct {
	TaskID      string       `json:"task_id"`
	Kind        string       `json:"kind"`
	Status      queue.Status `json:"status"`
	Worker      int          `json:"worker"`
	Error       string       `json:"error,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	DurationMS  int64        `json:"duration_ms"`
}

// Filter narrows Recent. Zero values match everything.
type Filter struct {
	Kind   string
	Status queue.Status
	Limit  int
}

// Record writes one outcome. Recording the same task twice keeps the latest.
func (j *Journal) Record(ctx context.Context, o queue.Outcome) error {
	if o.TaskID == "" {
		return fmt.Errorf("task id is empty")
	}
	if o.Status != queue.StatusSucceeded && o.Status != queue.StatusFailed {
		return fmt.Errorf("invalid outcome status: %q", o.Status)
	}

	var lastError any
	if o.Error != "" {
		lastError = truncateUTF8(o.Error, maxErrorBytes)
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO task_log(task_id, kind, status, worker, last_error, enqueued_at, started_at, completed_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
  status = excluded.status,
  worker = excluded.worker,
  last_error = excluded.last_error,
  started_at = excluded.started_at,
  completed_at = excluded.completed_at,
  duration_ms = excluded.duration_ms;
`, o.TaskID, o.Kind, o.Status, o.Worker, lastError,
		formatTime(o.EnqueuedAt), formatTime(o.StartedAt), formatTime(o.CompletedAt),
		o.Duration().Milliseconds())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Get returns the entry for taskID, or sql.ErrNoRows wrapped if none exists.
func (j *Journal) Get(ctx context.Context, taskID string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT task_id, kind, status, worker, last_error, enqueued_at, started_at, completed_at, duration_ms
FROM task_log
WHERE task_id = ?;
`, taskID)
	e, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get outcome %s: %w", taskID, err)
	}
	return e, nil
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT task_id, kind, status, worker, last_error, enqueued_at, started_at, completed_at, duration_ms FROM task_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completed_at DESC, rowid DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task_log: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Counts returns how many outcomes were recorded per status.
func (j *Journal) Counts(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task_log GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count task_log: %w", err)
	}
	defer rows.Close()

	out := make(map[queue.Status]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[queue.Status(s)] = n
	}
	return out, rows.Err()
}

// Prune deletes entries completed before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM task_log WHERE completed_at < ?;`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune task_log: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e           Entry
		status      string
		lastError   sql.NullString
		enqueuedAt  string
		startedAt   string
		completedAt string
	)
	if err := s.Scan(&e.TaskID, &e.Kind, &status, &e.Worker, &lastError, &enqueuedAt, &startedAt, &completedAt, &e.DurationMS); err != nil {
		return nil, err
	}
	e.Status = queue.Status(status)
	if lastError.Valid {
		e.Error = lastError.String
	}
	e.EnqueuedAt = parseTime(enqueuedAt)
	e.StartedAt = parseTime(startedAt)
	e.CompletedAt = parseTime(completedAt)
	return &e, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
