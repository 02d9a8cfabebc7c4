package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSSERoundTrip(t *testing.T) {
	ctx := context.Background()
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	a := NewAssembler(w)

	a.Status(ctx, "initializing", 10)
	a.Media(ctx, "https://example.com/a.png", map[string]any{"media_type": "image"})
	a.Complete(ctx, map[string]any{"response": "done"})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: {") {
		t.Errorf("unexpected body start %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("expected [DONE] terminator, got %q", body)
	}
	if !rec.Flushed {
		t.Error("expected flushed writes")
	}

	chunks, err := DecodeAll(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[1].Type != TypeMedia || chunks[1].Content != "https://example.com/a.png" {
		t.Errorf("unexpected media chunk %+v", chunks[1])
	}
	if chunks[2].Metadata["response"] != "done" {
		t.Errorf("unexpected complete metadata %v", chunks[2].Metadata)
	}
}

func TestDecoderMalformed(t *testing.T) {
	tests := []string{
		"event: ping\n\n",
		"data: {not json}\n\n",
		"data: {\"content\":\"no type\"}\n\n",
	}
	for _, in := range tests {
		_, err := NewDecoder(strings.NewReader(in)).Next()
		if !errors.Is(err, ErrMalformedChunk) {
			t.Errorf("%q: expected ErrMalformedChunk, got %v", in, err)
		}
	}
}

func TestDecoderStopsAtDone(t *testing.T) {
	in := "data: {\"type\":\"status\",\"content\":\"x\"}\n\ndata: [DONE]\n\ndata: garbage\n\n"
	d := NewDecoder(strings.NewReader(in))
	if _, err := d.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after [DONE], got %v", err)
	}
}

func TestSSEWriterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := NewSSEWriter(&buf).Send(ctx, Chunk{Type: TypeText}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if buf.Len() != 0 {
		t.Error("expected nothing written")
	}
}
