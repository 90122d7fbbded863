// Package commandqueue serializes conversation work onto named lanes.
// Each lane executes its tasks with a configurable concurrency limit;
// conversation lanes run with concurrency 1 so turns for one
// conversation never interleave.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agilbank/concierge/internal/observability"
	"github.com/agilbank/concierge/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Task is a unit of work executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions configures per-task behavior.
type TaskOptions struct {
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState tracks queued and running tasks for one lane.
type laneState struct {
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
	activeIDs   map[string]bool
	mu          sync.Mutex
}

// Queue provides lane-based task serialization with per-lane
// concurrency control. Lanes are created on first use.
type Queue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an empty queue.
func New() *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *Queue) initLane(lane string, concurrency int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.lanes[lane]; !exists {
		q.lanes[lane] = &laneState{
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
			activeIDs:   make(map[string]bool),
		}
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

func (q *Queue) ensureLane(lane string) {
	q.mu.RLock()
	_, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		q.initLane(lane, 1)
	}
}

// Enqueue adds a task to the lane and blocks until it completes.
func (q *Queue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return q.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the lane, propagating the caller's
// tracing metadata, and blocks until the task completes.
func (q *Queue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"concierge.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	q.ensureLane(lane)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	ls := q.lanes[lane]
	q.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: ls.generation,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	observability.RecordEnqueue(lane)
	observability.SetQueueSize(lane, queueSize)

	if opts.WarnAfterMs > 0 {
		go q.startWarnTimer(record, lane)
	}

	go q.processLane(lane)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// Tasks queued before a lane reset never run.
		if record.generation != ls.generation {
			record.result <- taskResult{err: fmt.Errorf("task cancelled: lane reset")}
			close(record.result)
			continue
		}

		ls.running++
		ls.activeIDs[record.id] = true

		logger := tracing.LoggerFromContext(record.ctx, log.Logger)
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Int("running", ls.running).
			Msg("Task started")

		q.wg.Add(1)
		go q.executeTask(lane, record)
	}
}

func (q *Queue) executeTask(lane string, record *taskRecord) {
	defer q.wg.Done()

	taskCtx := record.ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	taskCtx, span := tracing.StartSpan(
		taskCtx,
		"concierge.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	ls.running--
	delete(ls.activeIDs, record.id)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
		observability.RecordDequeue(lane, "error")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
		observability.RecordDequeue(lane, "success")
	}
	observability.SetQueueSize(lane, queueSize)

	go q.processLane(lane)
}

func (q *Queue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(time.Duration(record.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		q.mu.RLock()
		ls := q.lanes[lane]
		q.mu.RUnlock()
		if ls == nil {
			return
		}

		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			waitMs := time.Since(record.enqueuedAt).Milliseconds()
			log.Warn().
				Str("lane", lane).
				Str("task_id", record.id).
				Int64("wait_ms", waitMs).
				Int("queue_pos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(waitMs, queuePos)
			}
		}
	case <-q.ctx.Done():
	}
}

// QueueSize returns the number of queued tasks for a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// RunningCount returns the number of executing tasks for a lane.
func (q *Queue) RunningCount(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns queued/running/concurrency counts for every lane.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ResetLane rejects all queued tasks on the lane and bumps its
// generation so stale records never execute.
func (q *Queue) ResetLane(lane string) {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++

	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("task cancelled: lane reset")}
		close(record.result)
	}
	ls.queue = make([]*taskRecord, 0)

	log.Info().Str("lane", lane).Int("generation", ls.generation).Msg("Lane reset")
	observability.SetQueueSize(lane, 0)
}

// SetConcurrency updates the concurrency limit for a lane.
func (q *Queue) SetConcurrency(lane string, concurrency int) {
	q.ensureLane(lane)

	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	oldMax := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	if concurrency > oldMax {
		go q.processLane(lane)
	}
}

// WaitForActive blocks until all running tasks finish or the timeout
// elapses. Returns true when everything drained.
func (q *Queue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		q.mu.RLock()
		for _, ls := range q.lanes {
			ls.mu.Lock()
			if len(ls.activeIDs) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		q.mu.RUnlock()

		if allDrained {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close cancels in-flight task contexts and waits for them to return.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
