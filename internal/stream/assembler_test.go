package stream

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestAssemblerOrdering(t *testing.T) {
	ctx := context.Background()
	var col Collector
	a := NewAssembler(&col)

	if err := a.Text(ctx, "too early", nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := a.Status(ctx, "initializing", 10); err != nil {
		t.Fatal(err)
	}
	if err := a.Tool(ctx, "search_wikipedia", map[string]any{"phase": "start"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Text(ctx, "answer", nil); err != nil {
		t.Fatal(err)
	}
	if err := a.Complete(ctx, map[string]any{"response": "answer"}); err != nil {
		t.Fatal(err)
	}
	if !a.Closed() {
		t.Error("expected closed after complete")
	}
	if err := a.Text(ctx, "late", nil); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if err := a.Complete(ctx, nil); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed for second complete, got %v", err)
	}

	want := []Type{TypeStatus, TypeTool, TypeText, TypeComplete}
	if got := col.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	for _, c := range col.Chunks {
		if c.Timestamp.IsZero() {
			t.Errorf("chunk %s has no timestamp", c.Type)
		}
	}
	if col.Chunks[0].Metadata["progress"] != 10 {
		t.Errorf("expected progress 10, got %v", col.Chunks[0].Metadata)
	}
}

func TestAssemblerErrorTerminates(t *testing.T) {
	ctx := context.Background()
	var col Collector
	a := NewAssembler(&col)

	if err := a.Status(ctx, "initializing", 10); err != nil {
		t.Fatal(err)
	}
	if err := a.Error(ctx, "something went wrong"); err != nil {
		t.Fatal(err)
	}
	if err := a.Complete(ctx, nil); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed after error, got %v", err)
	}

	for _, c := range col.Chunks {
		if c.Type == TypeComplete {
			t.Fatal("error stream must not contain complete")
		}
	}
	if last := col.Chunks[len(col.Chunks)-1]; last.Type != TypeError {
		t.Errorf("expected error chunk last, got %s", last.Type)
	}
}

func TestAssemblerErrorBeforeStart(t *testing.T) {
	var col Collector
	a := NewAssembler(&col)
	if err := a.Error(context.Background(), "boom"); err != nil {
		t.Fatal(err)
	}
	want := []Type{TypeStatus, TypeError}
	if got := col.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAssemblerSinkError(t *testing.T) {
	failing := SinkFunc(func(context.Context, Chunk) error { return errors.New("client gone") })
	a := NewAssembler(failing)
	if err := a.Status(context.Background(), "initializing", 10); err == nil {
		t.Fatal("expected sink error")
	}
}
