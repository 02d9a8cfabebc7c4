// Package stream defines the typed chunk protocol sessions use to report
// progress and results, and its Server-Sent Events encoding.
package stream

import (
	"context"
	"errors"
	"time"
)

// Type classifies a chunk.
type Type string

const (
	TypeStatus   Type = "status"
	TypeText     Type = "text"
	TypeMedia    Type = "media"
	TypeTool     Type = "tool"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Terminal reports whether no chunk may follow one of this type.
func (t Type) Terminal() bool { return t == TypeComplete || t == TypeError }

// Chunk is one unit of streamed output.
type Chunk struct {
	Type      Type           `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

var (
	// ErrStreamClosed is returned when a chunk is emitted after complete or
	// error.
	ErrStreamClosed = errors.New("stream closed")
	// ErrNotStarted is returned when the first chunk of a stream is not a
	// status chunk.
	ErrNotStarted = errors.New("stream must start with a status chunk")
)

// Sink receives chunks in order. Implementations need not be safe for
// concurrent use; a session emits from a single goroutine.
type Sink interface {
	Send(ctx context.Context, c Chunk) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Chunk) error

func (f SinkFunc) Send(ctx context.Context, c Chunk) error { return f(ctx, c) }

// Discard drops every chunk.
var Discard Sink = SinkFunc(func(context.Context, Chunk) error { return nil })

// Collector keeps every chunk it receives.
type Collector struct {
	Chunks []Chunk
}

func (c *Collector) Send(_ context.Context, ch Chunk) error {
	c.Chunks = append(c.Chunks, ch)
	return nil
}

// Types returns the chunk types received so far, in order.
func (c *Collector) Types() []Type {
	out := make([]Type, len(c.Chunks))
	for i, ch := range c.Chunks {
		out[i] = ch.Type
	}
	return out
}
