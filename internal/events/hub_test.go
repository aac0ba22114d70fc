package events

import (
	"encoding/json"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TaskStarted, map[string]any{"task_id": "t1", "worker": 1})

	select {
	case ev := <-ch:
		assert.Equal(t, TaskStarted, ev.Type)
		assert.EqualValues(t, 1, ev.ID)
		var data map[string]any
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "t1", data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHubSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TaskEnqueued, nil)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.EqualValues(t, 3, all[0].ID)
	assert.EqualValues(t, 5, all[2].ID)

	tail := h.SnapshotSince(4)
	require.Len(t, tail, 1)
	assert.EqualValues(t, 5, tail[0].ID)
	assert.JSONEq(t, `{}`, string(tail[0].Data))
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel() // second cancel is a no-op
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())

	// Publishing with no subscribers must not block.
	h.Publish(ShutdownCompleted, nil)
}

func TestHubConcurrentPublishKeepsIDOrder(t *testing.T) {
	const (
		publishers = 32
		perWorker  = 200
	)
	h := NewHub(publishers * perWorker)
	ch, cancel := h.Subscribe()
	defer cancel()

	var received []int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			received = append(received, ev.ID)
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h.Publish(TaskSucceeded, nil)
				runtime.Gosched()
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done

	all := h.SnapshotSince(0)
	require.Len(t, all, publishers*perWorker)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].ID, all[i-1].ID, "ring out of order at %d", i)
	}
	for i := 1; i < len(received); i++ {
		require.Greater(t, received[i], received[i-1], "fan-out out of order at %d", i)
	}
}
