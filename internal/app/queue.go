/**
 * @description
 * In-process disbursement queue. Tasks are served first-in first-out by a drain loop
 * that pops one task per tick and runs it to completion, so at most one task (and
 * therefore one provider call) is in flight at any time.
 */
package app

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of deferred work. Key identifies the work for de-duplication; tasks
// with an empty Key are never de-duplicated.
type Task struct {
	Name string
	Key  string
	Run  func(ctx context.Context) error
}

// TaskQueue is an unbounded FIFO of Tasks owned by the process.
type TaskQueue struct {
	mu       sync.Mutex
	tasks    *list.List
	queued   map[string]struct{}
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

// NewTaskQueue creates a queue drained every interval.
func NewTaskQueue(interval time.Duration, logger *slog.Logger, metrics *Metrics) *TaskQueue {
	return &TaskQueue{
		tasks:    list.New(),
		queued:   map[string]struct{}{},
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Enqueue appends a task without blocking. It returns false when a task with the same
// Key is still waiting in the queue.
func (q *TaskQueue) Enqueue(task Task) bool {
	q.mu.Lock()
	if task.Key != "" {
		if _, dup := q.queued[task.Key]; dup {
			q.mu.Unlock()
			q.metrics.RecordTask("duplicate")
			q.logger.Debug("task already queued", "task", task.Name, "key", task.Key)
			return false
		}
		q.queued[task.Key] = struct{}{}
	}
	q.tasks.PushBack(task)
	depth := q.tasks.Len()
	q.mu.Unlock()

	q.metrics.RecordTask("enqueued")
	q.metrics.SetQueueDepth(depth)
	return true
}

// Len returns the number of tasks waiting.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

func (q *TaskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.tasks.Front()
	if front == nil {
		return Task{}, false
	}
	task := q.tasks.Remove(front).(Task)
	if task.Key != "" {
		delete(q.queued, task.Key)
	}
	q.metrics.SetQueueDepth(q.tasks.Len())
	return task, true
}

// Run drains the queue until ctx is cancelled. Tasks still queued at that point are dropped.
func (q *TaskQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	q.logger.Info("task queue drain loop started", "interval", q.interval)
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("task queue drain loop stopped", "dropped", q.Len())
			return
		case <-ticker.C:
			q.DrainOnce(ctx)
		}
	}
}

// DrainOnce pops and runs a single task. It reports whether a task was run.
func (q *TaskQueue) DrainOnce(ctx context.Context) bool {
	task, ok := q.pop()
	if !ok {
		return false
	}
	if err := q.execute(ctx, task); err != nil {
		q.logger.Error("task failed", "task", task.Name, "error", err)
	} else {
		q.metrics.RecordTask("succeeded")
	}
	return true
}

func (q *TaskQueue) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.RecordTask("panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err = task.Run(ctx); err != nil {
		q.metrics.RecordTask("failed")
	}
	return err
}
