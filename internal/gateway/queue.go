package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/kasuwabot/internal/types"
)

// Queue manages per-customer lanes with a global concurrency semaphore.
// Each customer gets its own FIFO channel (lane) so messages from one
// customer are processed sequentially, while the semaphore limits the
// total number of concurrent processors across all customers.
type Queue struct {
	lanes     map[types.SessionKey]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error

	// pending counts runs accepted by Enqueue that have not finished
	// processing, including runs still buffered in their lane.
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all customer lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.SessionKey]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to the customer's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[run.Key]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.Key] = lane
		q.wg.Add(1)
		go q.processLane(run.Key, lane)
	}

	select {
	case lane <- run:
		q.pending.Add(1)
		return nil
	default:
		return fmt.Errorf("queue full for %s", run.Key)
	}
}

// processLane drains a single customer lane, acquiring a semaphore slot
// before running the processor synchronously. This ensures strict FIFO
// ordering per customer while the semaphore limits cross-customer
// parallelism.
func (q *Queue) processLane(key types.SessionKey, lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			if q.processor != nil {
				run.Ctx = q.ctx
				now := time.Now()
				run.StartedAt = &now
				run.Status = RunStatusRunning
				if err := q.processor(run); err != nil {
					run.Status = RunStatusFailed
					run.Error = err
					slog.Error("run failed", "run_id", string(run.ID), "key", string(run.Key), "error", err)
				} else {
					run.Status = RunStatusComplete
				}
				ended := time.Now()
				run.EndedAt = &ended
			}
			q.semaphore.Release(1)
			q.pending.Add(-1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until every enqueued run has finished processing, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
