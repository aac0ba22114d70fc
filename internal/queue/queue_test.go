package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()

	q := New()
	t1 := NewTask("simulate", nil)
	t2 := NewTask("simulate", nil)
	q.Enqueue(t1)
	q.Enqueue(t2)
	assert.Equal(t, 2, q.Len())

	got1, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, t1.ID, got1.ID)

	got2, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, t2.ID, got2.ID)

	_, ok = q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.False(t, ok, "expected empty queue")
	assert.Equal(t, 0, q.Len())
}

func TestQueueDequeueTimesOutWhenEmpty(t *testing.T) {
	t.Parallel()

	q := New()
	start := time.Now()
	_, ok := q.Dequeue(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestQueueDequeueReturnsOnCancel(t *testing.T) {
	t.Parallel()

	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, ok := q.Dequeue(ctx, 5*time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueueEnqueueWakesBlockedConsumer(t *testing.T) {
	t.Parallel()

	q := New()
	got := make(chan Task, 1)
	go func() {
		task, ok := q.Dequeue(context.Background(), 5*time.Second)
		if ok {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	want := NewTask("shop.audit", nil)
	q.Enqueue(want)

	select {
	case task := <-got:
		assert.Equal(t, want.ID, task.ID)
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not woken")
	}
}

func TestQueueRequeueGoesToHead(t *testing.T) {
	t.Parallel()

	q := New()
	first := NewTask("simulate", nil)
	second := NewTask("simulate", nil)
	q.Enqueue(first)
	q.Enqueue(second)

	claimed, ok := q.Dequeue(context.Background(), time.Millisecond)
	require.True(t, ok)
	q.Requeue(claimed)

	again, ok := q.Dequeue(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, q.Pending(), "requeue must not change pending count")
}

func TestQueueExactlyOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	const (
		producers   = 4
		consumers   = 6
		perProducer = 250
	)

	q := New()
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.Dequeue(ctx, 20*time.Millisecond)
				if !ok {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
				q.Done()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(Task{ID: fmt.Sprintf("p%d-%d", p, i), Kind: "simulate"})
			}
		}(p)
	}
	pwg.Wait()

	joinCtx, joinCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer joinCancel()
	require.NoError(t, q.Join(joinCtx))

	cancel()
	wg.Wait()

	assert.Len(t, seen, producers*perProducer)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s delivered %d times", id, n)
	}
}

func TestQueuePerProducerOrderPreserved(t *testing.T) {
	t.Parallel()

	q := New()
	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(Task{ID: fmt.Sprintf("%d:%03d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	last := map[byte]string{}
	for {
		task, ok := q.Dequeue(context.Background(), time.Millisecond)
		if !ok {
			break
		}
		producer := task.ID[0]
		if prev, ok := last[producer]; ok {
			assert.Less(t, prev, task.ID)
		}
		last[producer] = task.ID
	}
	assert.Len(t, last, 3)
}

func TestQueueJoinWaitsForDone(t *testing.T) {
	t.Parallel()

	q := New()
	require.NoError(t, q.Join(context.Background()), "empty queue joins immediately")

	q.Enqueue(NewTask("simulate", nil))
	_, ok := q.Dequeue(context.Background(), time.Millisecond)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Join(ctx), context.DeadlineExceeded)

	q.Done()
	assert.NoError(t, q.Join(context.Background()))

	// Extra Done calls are ignored.
	q.Done()
	assert.Equal(t, 0, q.Pending())
}
