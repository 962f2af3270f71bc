// Package queue provides FIFO serialization queues for the node tree.
//
// A Queue runs at most one task at a time and hands out ownership in
// arrival order (golang.org/x/sync/semaphore serves waiters FIFO). The
// tree owns two of them: one gating every file-level read or refresh and
// one gating whole-directory scans.
//
// Ownership is carried on the context. Code running inside Do receives a
// context that marks the queue as held, and a nested Do on the same queue
// with that context runs inline instead of deadlocking. This lets plugin
// hooks invoked during a refresh read back through the tree.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/servedir/internal/logging"
)

// Task is a unit of work executed while holding the queue.
type Task func(ctx context.Context) error

// Queue serializes tasks in FIFO order.
type Queue struct {
	name   string
	sem    *semaphore.Weighted
	logger logging.Logger

	// mu protects pending, running and closed
	mu      sync.Mutex
	pending []backgroundTask
	running bool
	closed  bool
	idle    *sync.Cond

	waiting   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

type backgroundTask struct {
	ctx  context.Context
	task Task
}

type heldKey struct{ q *Queue }

// New creates a queue. The name only appears in logs and stats.
func New(name string, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	q := &Queue{
		name:   name,
		sem:    semaphore.NewWeighted(1),
		logger: logger.WithComponent("queue").With("queue", name),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Do runs task once every earlier caller has finished. If ctx already
// holds this queue the task runs immediately on the caller's goroutine.
func (q *Queue) Do(ctx context.Context, task Task) error {
	if q.Held(ctx) {
		return task(ctx)
	}

	q.waiting.Add(1)
	err := q.sem.Acquire(ctx, 1)
	q.waiting.Add(-1)
	if err != nil {
		return err
	}
	defer q.sem.Release(1)

	err = task(context.WithValue(ctx, heldKey{q}, true))
	q.completed.Add(1)
	if err != nil {
		q.failed.Add(1)
	}
	return err
}

// Held reports whether ctx was derived inside a Do on this queue.
func (q *Queue) Held(ctx context.Context) bool {
	held, _ := ctx.Value(heldKey{q}).(bool)
	return held
}

// Detach returns a context that keeps ctx's values but is neither
// cancelled with it nor considered to hold this queue.
func (q *Queue) Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), heldKey{q}, false)
}

// Go schedules task in the background. Background tasks start in the
// order they were scheduled and always run to completion. Failures are
// logged.
func (q *Queue) Go(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.pending = append(q.pending, backgroundTask{ctx: q.Detach(ctx), task: task})
	if !q.running {
		q.running = true
		go q.drain()
	}
	return nil
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = backgroundTask{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.Do(next.ctx, next.task); err != nil {
			q.logger.Warn(next.ctx, err, "background task failed")
		}
	}
}

// Wait blocks until every background task scheduled so far, and any task
// those schedule in turn, has finished. It must not be called from inside
// a background task of the same queue.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.running {
			q.idle.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting background tasks. Tasks already scheduled still
// run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Stats returns current queue statistics for monitoring.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Name:      q.name,
		Waiting:   int(q.waiting.Load()),
		Pending:   len(q.pending),
		Running:   q.running,
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Closed:    q.closed,
	}
}

// Stats provides queue health and capacity information.
type Stats struct {
	Name      string `json:"name"`
	Waiting   int    `json:"waiting"`
	Pending   int    `json:"pending"`
	Running   bool   `json:"running"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Closed    bool   `json:"closed"`
}

// Idle reports whether no background task is scheduled or running.
func (s Stats) Idle() bool {
	return s.Pending == 0 && !s.Running
}

// Queue error definitions
var (
	ErrQueueClosed = &QueueError{Code: "QUEUE_CLOSED", Message: "queue has been closed"}
)

// QueueError represents an error in queue operations.
type QueueError struct {
	Code    string
	Message string
}

func (qe *QueueError) Error() string {
	return qe.Message
}
