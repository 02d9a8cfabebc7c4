package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/metatron/internal/types"
)

const (
	laneBuffer      = 100
	defaultLaneIdle = time.Minute
)

var (
	// ErrQueueFull is returned when a lane has no room for another run.
	ErrQueueFull = errors.New("queue full")
	// ErrStopped is returned for runs submitted to, or left in, a stopped
	// queue.
	ErrStopped = errors.New("queue stopped")
)

// Queue runs work in per-lane FIFO order with a global concurrency limit.
// Runs sharing a lane are processed one at a time; the semaphore bounds the
// number of runs processing across all lanes. Idle lanes are retired.
type Queue struct {
	lanes     map[types.LaneKey]chan *Run
	semaphore *semaphore.Weighted
	processor ProcessFunc
	idle      time.Duration
	active    atomic.Int64
	logger    *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewQueue creates a Queue that processes up to maxConcurrent runs at once.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.LaneKey]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		idle:      defaultLaneIdle,
		logger:    slog.Default(),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight runs, fails queued ones with ErrStopped and waits
// for every lane to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	q.stopped = true
	for key, lane := range q.lanes {
		close(lane)
		delete(q.lanes, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// ProcessFunc handles one dequeued Run. ctx is cancelled when either the
// submitter or the queue goes away.
type ProcessFunc func(ctx context.Context, run *Run) (*types.ChatResponse, error)

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn ProcessFunc) {
	q.processor = fn
}

// Enqueue adds a Run to its lane, starting the lane on first use.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.ctx == nil {
		return ErrStopped
	}

	lane, exists := q.lanes[run.Lane]
	if !exists {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.Lane] = lane
		q.wg.Add(1)
		go q.processLane(run.Lane, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("%w for lane %s", ErrQueueFull, run.Lane)
	}
}

// Lanes returns the number of live lanes.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

func (q *Queue) processLane(key types.LaneKey, lane chan *Run) {
	defer q.wg.Done()
	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			q.process(run)
			timer.Reset(q.idle)
		case <-timer.C:
			if q.retire(key, lane) {
				return
			}
			timer.Reset(q.idle)
		case <-q.ctx.Done():
			// Stop closes the lane; drain it so waiters are released.
			for run := range lane {
				run.abandon(ErrStopped)
			}
			return
		}
	}
}

// retire removes an empty lane. Enqueue sends under the same lock, so no
// run can be lost between the check and the delete.
func (q *Queue) retire(key types.LaneKey, lane chan *Run) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(lane) > 0 || q.lanes[key] != lane {
		return false
	}
	delete(q.lanes, key)
	return true
}

func (q *Queue) process(run *Run) {
	if q.ctx.Err() != nil {
		run.abandon(ErrStopped)
		return
	}
	ctx, cancel := context.WithCancel(run.ctx)
	defer cancel()
	stop := context.AfterFunc(q.ctx, cancel)
	defer stop()

	if err := q.semaphore.Acquire(ctx, 1); err != nil {
		run.abandon(err)
		return
	}
	defer q.semaphore.Release(1)

	if !run.start() {
		// abandoned by its submitter while queued
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	var (
		resp *types.ChatResponse
		err  error
	)
	if q.processor == nil {
		err = errors.New("no processor configured")
	} else {
		resp, err = q.processor(ctx, run)
	}
	run.finish(resp, err)
	if err != nil && ctx.Err() == nil {
		q.logger.Error("run failed", "run_id", string(run.ID), "lane", string(run.Lane), "error", err)
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
