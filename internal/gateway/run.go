package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run tracks one request from admission to its final response.
type Run struct {
	ID        types.RunID
	Lane      types.LaneKey
	Request   *types.ChatRequest
	Sink      stream.Sink
	CreatedAt time.Time

	// ctx is the submitter's context; cancelling it cancels the run.
	ctx  context.Context
	done chan struct{}

	mu        sync.Mutex
	status    RunStatus
	startedAt *time.Time
	endedAt   *time.Time
	response  *types.ChatResponse
	err       error
}

// NewRun creates a queued Run. A nil sink discards chunks.
func NewRun(ctx context.Context, lane types.LaneKey, req *types.ChatRequest, sink stream.Sink) *Run {
	if sink == nil {
		sink = stream.Discard
	}
	return &Run{
		ID:        types.NewRunID(),
		Lane:      lane,
		Request:   req,
		Sink:      sink,
		CreatedAt: time.Now(),
		ctx:       ctx,
		done:      make(chan struct{}),
		status:    RunStatusQueued,
	}
}

// Status returns the current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the run has finished or was abandoned before start.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends. If the submitter's context ends while the
// run is still queued, the run is abandoned and never processed. Once a run
// has started Wait always waits for it, so the sink is not written after
// Wait returns.
func (r *Run) Wait() (*types.ChatResponse, error) {
	select {
	case <-r.done:
	case <-r.ctx.Done():
		if !r.abandon(r.ctx.Err()) {
			<-r.done
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response, r.err
}

// Timing returns when the run started and ended; nil until known.
func (r *Run) Timing() (started, ended *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt, r.endedAt
}

// start claims a queued run for processing.
func (r *Run) start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunStatusQueued {
		return false
	}
	now := time.Now()
	r.status = RunStatusRunning
	r.startedAt = &now
	return true
}

// abandon ends a run that never started.
func (r *Run) abandon(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunStatusQueued {
		return false
	}
	now := time.Now()
	r.status = RunStatusCancelled
	r.endedAt = &now
	r.err = err
	close(r.done)
	return true
}

// finish records the outcome of a started run.
func (r *Run) finish(resp *types.ChatResponse, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.endedAt = &now
	r.response, r.err = resp, err
	switch {
	case err == nil:
		r.status = RunStatusComplete
	case r.ctx.Err() != nil:
		r.status = RunStatusCancelled
	default:
		r.status = RunStatusFailed
	}
	close(r.done)
}
