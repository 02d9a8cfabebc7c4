// Package gateway admits chat requests into per-user lanes and runs them
// through the orchestrator with bounded concurrency.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
)

// Processor runs one request to completion.
type Processor interface {
	Run(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error)
}

// Gateway owns the run queue in front of a Processor.
type Gateway struct {
	proc   Processor
	Queue  *Queue
	logger *slog.Logger
}

// New creates a Gateway that processes up to maxConcurrent requests at once.
func New(proc Processor, maxConcurrent int64, logger *slog.Logger) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		proc:   proc,
		Queue:  NewQueue(maxConcurrent),
		logger: logger,
	}
	g.Queue.logger = logger
	g.Queue.SetProcessor(g.process)
	return g
}

// Start starts the queue. Requests submitted before Start fail with
// ErrStopped.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop cancels in-flight runs and waits for the lanes to exit.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// LaneFor returns the lane a request is serialised on: one per user and
// transport.
func LaneFor(req *types.ChatRequest) types.LaneKey {
	source := req.Source
	if source == "" {
		source = "api"
	}
	user := strings.TrimSpace(req.UserID)
	if user == "" {
		user = "anonymous"
	}
	return types.NewLaneKey(source, user)
}

// Submit enqueues req. Chunks are written to sink from the lane goroutine;
// callers must not touch sink again until Wait returns.
func (g *Gateway) Submit(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*Run, error) {
	run := NewRun(ctx, LaneFor(req), req, sink)
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, err
	}
	g.logger.Debug("run queued", "run_id", string(run.ID), "lane", string(run.Lane))
	return run, nil
}

// Do submits req and waits for its response.
func (g *Gateway) Do(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
	run, err := g.Submit(ctx, req, sink)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

func (g *Gateway) process(ctx context.Context, run *Run) (*types.ChatResponse, error) {
	g.logger.Debug("run started", "run_id", string(run.ID), "lane", string(run.Lane))
	return g.proc.Run(ctx, run.Request, run.Sink)
}
