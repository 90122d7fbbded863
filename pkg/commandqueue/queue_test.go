package commandqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_BasicEnqueue(t *testing.T) {
	q := New()
	defer q.Close()

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := q.Enqueue("conv-1", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestQueue_TaskError(t *testing.T) {
	q := New()
	defer q.Close()

	expectedErr := errors.New("task failed")
	task := func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}

	result, err := q.Enqueue("conv-1", task, nil)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestQueue_SerialExecutionPerLane(t *testing.T) {
	q := New()
	defer q.Close()

	var running, maxRunning int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil, nil
			}
			_, _ = q.Enqueue("conv-1", task, nil)
		}()
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxRunning, "same-lane tasks must never overlap")
}

func TestQueue_LanesRunIndependently(t *testing.T) {
	q := New()
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = q.Enqueue("conv-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()

	<-started

	// conv-1 is blocked; conv-2 still serves.
	done := make(chan struct{})
	go func() {
		_, _ = q.Enqueue("conv-2", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("conv-2 task blocked behind conv-1")
	}
	close(release)
}

func TestQueue_Stats(t *testing.T) {
	q := New()
	defer q.Close()

	_, _ = q.Enqueue("conv-1", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)

	stats := q.Stats()
	assert.Contains(t, stats, "conv-1")
	assert.Equal(t, 1, stats["conv-1"]["concurrency"])
	assert.Equal(t, 0, stats["conv-1"]["queued"])
}

func TestQueue_ResetLaneRejectsQueued(t *testing.T) {
	q := New()
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = q.Enqueue("conv-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue("conv-1", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		errCh <- err
	}()

	assert.Eventually(t, func() bool {
		return q.QueueSize("conv-1") == 1
	}, time.Second, 5*time.Millisecond)

	q.ResetLane("conv-1")
	close(release)

	select {
	case err := <-errCh:
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "lane reset")
	case <-time.After(time.Second):
		t.Fatal("queued task never resolved after reset")
	}
}

func TestQueue_SetConcurrency(t *testing.T) {
	q := New()
	defer q.Close()

	q.SetConcurrency("bulk", 3)

	stats := q.Stats()
	assert.Equal(t, 3, stats["bulk"]["concurrency"])
}

func TestQueue_WaitForActive(t *testing.T) {
	q := New()
	defer q.Close()

	started := make(chan struct{})
	go func() {
		_, _ = q.Enqueue("conv-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			return nil, nil
		}, nil)
	}()
	<-started

	drained := q.WaitForActive(time.Second)
	assert.True(t, drained)
	assert.Equal(t, 0, q.RunningCount("conv-1"))
}

func TestQueue_WarnTimer(t *testing.T) {
	q := New()
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = q.Enqueue("conv-1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	waited := make(chan int64, 1)
	go func() {
		_, _ = q.Enqueue("conv-1", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfterMs: 10,
			OnWait: func(waitMs int64, queuePos int) {
				waited <- waitMs
			},
		})
	}()

	select {
	case waitMs := <-waited:
		assert.GreaterOrEqual(t, waitMs, int64(10))
	case <-time.After(time.Second):
		t.Fatal("wait callback never fired")
	}
	close(release)
}
