package state

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/user/metatron/internal/types"
)

func TestArtifactStorePutGet(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	ctx := context.Background()
	sessionID := types.NewSessionID()
	data := strings.Repeat("research ", 500)

	id, err := store.Put(ctx, sessionID, types.NewRunID(), "deep_research", data)
	if err != nil {
		t.Fatal(err)
	}
	got, meta, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got != data {
		t.Error("artifact data changed on round trip")
	}
	if meta.Tool != "deep_research" || meta.SessionID != sessionID || meta.Size != len(data) {
		t.Errorf("unexpected meta %+v", meta)
	}
}

func TestArtifactStoreMissing(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	if _, _, err := store.Get(context.Background(), types.NewArtifactID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(context.Background(), "../x"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}
