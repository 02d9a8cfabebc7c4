package stream

import (
	"context"
	"fmt"
	"time"
)

// Assembler stamps chunks and forwards them to a sink while enforcing the
// stream grammar: a status chunk first, at most one terminal chunk, nothing
// after it.
type Assembler struct {
	sink    Sink
	now     func() time.Time
	started bool
	closed  bool
}

// NewAssembler returns an Assembler writing to sink.
func NewAssembler(sink Sink) *Assembler {
	if sink == nil {
		sink = Discard
	}
	return &Assembler{sink: sink, now: time.Now}
}

// Closed reports whether a terminal chunk has been emitted.
func (a *Assembler) Closed() bool { return a.closed }

// Emit validates and forwards c.
func (a *Assembler) Emit(ctx context.Context, c Chunk) error {
	if a.closed {
		return ErrStreamClosed
	}
	if !a.started && c.Type != TypeStatus {
		return ErrNotStarted
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = a.now()
	}
	a.started = true
	if c.Type.Terminal() {
		a.closed = true
	}
	if err := a.sink.Send(ctx, c); err != nil {
		return fmt.Errorf("sending %s chunk: %w", c.Type, err)
	}
	return nil
}

// Status emits a progress message. A zero progress is omitted.
func (a *Assembler) Status(ctx context.Context, message string, progress int) error {
	var meta map[string]any
	if progress > 0 {
		meta = map[string]any{"progress": progress}
	}
	return a.Emit(ctx, Chunk{Type: TypeStatus, Content: message, Metadata: meta})
}

// Text emits response text.
func (a *Assembler) Text(ctx context.Context, content string, meta map[string]any) error {
	return a.Emit(ctx, Chunk{Type: TypeText, Content: content, Metadata: meta})
}

// Media emits a media reference.
func (a *Assembler) Media(ctx context.Context, url string, meta map[string]any) error {
	return a.Emit(ctx, Chunk{Type: TypeMedia, Content: url, Metadata: meta})
}

// Tool emits a tool lifecycle event.
func (a *Assembler) Tool(ctx context.Context, name string, meta map[string]any) error {
	return a.Emit(ctx, Chunk{Type: TypeTool, Content: name, Metadata: meta})
}

// Complete closes the stream successfully. meta carries the final response.
func (a *Assembler) Complete(ctx context.Context, meta map[string]any) error {
	return a.Emit(ctx, Chunk{Type: TypeComplete, Content: "Stream complete", Metadata: meta})
}

// Error closes the stream with a user-facing message. A stream that never
// started gets an implicit status chunk first.
func (a *Assembler) Error(ctx context.Context, message string) error {
	if !a.started && !a.closed {
		if err := a.Status(ctx, "failed", 100); err != nil {
			return err
		}
	}
	return a.Emit(ctx, Chunk{Type: TypeError, Content: message, Metadata: map[string]any{"progress": 100}})
}
