package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/shopworker/internal/dispatch"
	"github.com/mattjoyce/shopworker/internal/events"
	"github.com/mattjoyce/shopworker/internal/journal"
	"github.com/mattjoyce/shopworker/internal/queue"
	"github.com/mattjoyce/shopworker/internal/storage"
)

// fakeDispatcher implements TaskDispatcher for testing
type fakeDispatcher struct {
	mu           sync.Mutex
	enqueued     []queue.Task
	shuttingDown bool
	stats        dispatch.Stats
}

func (f *fakeDispatcher) Enqueue(kind string, payload json.RawMessage) queue.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := queue.NewTask(kind, payload)
	f.enqueued = append(f.enqueued, t)
	return t
}

func (f *fakeDispatcher) Stats() dispatch.Stats {
	s := f.stats
	s.ShuttingDown = f.shuttingDown
	return s
}

func (f *fakeDispatcher) ShuttingDown() bool { return f.shuttingDown }

type fakeKinds []string

func (k fakeKinds) Has(kind string) bool {
	for _, v := range k {
		if v == kind {
			return true
		}
	}
	return false
}

func (k fakeKinds) Kinds() []string { return k }

func newTestServer(t *testing.T, j OutcomeLog) (*Server, *fakeDispatcher, *events.Hub) {
	t.Helper()
	disp := &fakeDispatcher{}
	hub := events.NewHub(32)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Config{Listen: "127.0.0.1:0", MaxBodyBytes: 64}, disp, fakeKinds{"shop.audit", "simulate"}, j, hub, logger)
	return s, disp, hub
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return journal.New(db)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestEnqueueAcceptsKnownKind(t *testing.T) {
	s, disp, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/tasks/simulate", `{"description":"x"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "simulate", resp.Kind)
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.TaskID)

	require.Len(t, disp.enqueued, 1)
	assert.Equal(t, resp.TaskID, disp.enqueued[0].ID)
	assert.JSONEq(t, `{"description":"x"}`, string(disp.enqueued[0].Payload))
}

func TestEnqueueWithoutBody(t *testing.T) {
	s, disp, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/tasks/shop.audit", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, disp.enqueued, 1)
	assert.Nil(t, disp.enqueued[0].Payload)
}

func TestEnqueueRejections(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		shutting bool
		want     int
	}{
		{name: "unknown kind", path: "/tasks/nope", want: http.StatusBadRequest},
		{name: "invalid json", path: "/tasks/simulate", body: "{not json", want: http.StatusBadRequest},
		{name: "too large", path: "/tasks/simulate", body: `{"d":"` + strings.Repeat("x", 100) + `"}`, want: http.StatusRequestEntityTooLarge},
		{name: "shutting down", path: "/tasks/simulate", shutting: true, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, disp, _ := newTestServer(t, nil)
			disp.shuttingDown = tt.shutting

			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, disp.enqueued)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHealthz(t *testing.T) {
	s, disp, _ := newTestServer(t, nil)
	disp.stats = dispatch.Stats{
		Workers:    []dispatch.WorkerStats{{ID: 1, State: "running", Busy: true}},
		QueueDepth: 4,
		Pending:    5,
		Succeeded:  7,
	}

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.QueueDepth)
	assert.Equal(t, 5, resp.Pending)
	assert.EqualValues(t, 7, resp.Succeeded)
	assert.Equal(t, []string{"shop.audit", "simulate"}, resp.Kinds)
	require.Len(t, resp.Workers, 1)
	assert.True(t, resp.Workers[0].Busy)

	disp.shuttingDown = true
	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "shutting_down")
}

func TestTaskLog(t *testing.T) {
	j := openJournal(t)
	s, _, _ := newTestServer(t, j)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, j.Record(ctx, queue.Outcome{TaskID: "a", Kind: "simulate", Status: queue.StatusSucceeded, Worker: 1, StartedAt: now, CompletedAt: now}))
	require.NoError(t, j.Record(ctx, queue.Outcome{TaskID: "b", Kind: "shop.audit", Status: queue.StatusFailed, Worker: 2, Error: "boom", StartedAt: now, CompletedAt: now.Add(time.Second)}))

	rec := do(t, s, http.MethodGet, "/tasks/log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].TaskID)

	rec = do(t, s, http.MethodGet, "/tasks/log?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Error)

	rec = do(t, s, http.MethodGet, "/tasks/log?kind=nothing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/tasks/log?limit=zero", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/tasks/log?status=running", "").Code)

	rec = do(t, s, http.MethodGet, "/tasks/log/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, queue.StatusSucceeded, entry.Status)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/tasks/log/missing", "").Code)
}

func TestTaskLogDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/tasks/log", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/tasks/log/x", "").Code)
}

func TestOpenAPIListsKinds(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)
	assert.Contains(t, doc.Paths, "/tasks/simulate")
	assert.Contains(t, doc.Paths, "/tasks/shop.audit")
	assert.Contains(t, doc.Paths, "/healthz")
}

func TestEventsSSEReplaysHistory(t *testing.T) {
	s, _, hub := newTestServer(t, nil)
	hub.Publish(events.TaskEnqueued, map[string]any{"task_id": "t1"})
	hub.Publish(events.TaskSucceeded, map[string]any{"task_id": "t1"})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		lines = append(lines, line)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Equal(t, []string{"id: 2", "event: " + events.TaskSucceeded, `data: {"task_id":"t1"}`}, lines)
}

func TestEventsWebsocketStreams(t *testing.T) {
	s, _, hub := newTestServer(t, nil)
	hub.Publish(events.PoolStarted, map[string]any{"workers": 3})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.PoolStarted, ev.Type)

	// Live events arrive once the subscription exists; the replayed one proves it does.
	hub.Publish(events.TaskStarted, map[string]any{"task_id": "t9"})
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TaskStarted, ev.Type)
	assert.True(t, bytes.Contains(ev.Data, []byte("t9")))
}
