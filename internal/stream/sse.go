package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// ErrMalformedChunk is returned by Decoder for lines that are not a
// well-formed data event.
var ErrMalformedChunk = errors.New("malformed chunk")

// SSEWriter writes chunks as Server-Sent Events.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. If w is an http.ResponseWriter the event-stream
// headers are set and every event is flushed.
func NewSSEWriter(w io.Writer) *SSEWriter {
	s := &SSEWriter{w: w}
	if rw, ok := w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
	}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Send writes one data event.
func (s *SSEWriter) Send(ctx context.Context, c Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}
	return s.write(b)
}

// Close writes the end-of-stream marker.
func (s *SSEWriter) Close() error {
	return s.write([]byte(doneMarker))
}

func (s *SSEWriter) write(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "%s%s\n\n", dataPrefix, payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Decoder reads chunks back from an event stream.
type Decoder struct {
	sc   *bufio.Scanner
	done bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{sc: sc}
}

// Next returns the next chunk, or io.EOF after the end-of-stream marker or
// the end of input.
func (d *Decoder) Next() (Chunk, error) {
	for !d.done && d.sc.Scan() {
		line := bytes.TrimRight(d.sc.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		payload, ok := bytes.CutPrefix(line, []byte(dataPrefix))
		if !ok {
			return Chunk{}, fmt.Errorf("%w: %q", ErrMalformedChunk, line)
		}
		if string(payload) == doneMarker {
			d.done = true
			break
		}
		var c Chunk
		if err := json.Unmarshal(payload, &c); err != nil {
			return Chunk{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
		}
		if c.Type == "" {
			return Chunk{}, fmt.Errorf("%w: missing type", ErrMalformedChunk)
		}
		return c, nil
	}
	if err := d.sc.Err(); err != nil {
		return Chunk{}, err
	}
	return Chunk{}, io.EOF
}

// DecodeAll reads every chunk until the end of the stream.
func DecodeAll(r io.Reader) ([]Chunk, error) {
	d := NewDecoder(r)
	var out []Chunk
	for {
		c, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}
