package resilience

import (
	"context"
	"sync"
)

type traceKey struct{}

// Trace collects the ExecutionMetadata of every Execute call made with a
// context derived from WithTrace. It is safe for concurrent use; a nil
// *Trace ignores additions.
type Trace struct {
	mu      sync.Mutex
	entries []ExecutionMetadata
}

// WithTrace returns a child context that records executions into a new
// Trace.
func WithTrace(ctx context.Context) (context.Context, *Trace) {
	t := &Trace{}
	return context.WithValue(ctx, traceKey{}, t), t
}

// TraceFrom returns the Trace carried by ctx, or nil.
func TraceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

func (t *Trace) add(m ExecutionMetadata) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.entries = append(t.entries, m)
	t.mu.Unlock()
}

// Entries returns a copy of the recorded metadata in completion order.
func (t *Trace) Entries() []ExecutionMetadata {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ExecutionMetadata(nil), t.entries...)
}

// Retries returns the total retry count across all recorded executions.
func (t *Trace) Retries() int {
	n := 0
	for _, e := range t.Entries() {
		n += e.RetryCount
	}
	return n
}
