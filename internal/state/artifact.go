package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/metatron/internal/types"
)

type artifactFile struct {
	Meta *types.ArtifactMeta `json:"meta"`
	Data string              `json:"data"`
}

// ArtifactStore keeps large tool outputs as one JSON file per artifact at
// sessions/<session>/artifacts/<id>.json.
type ArtifactStore struct {
	root string
	now  func() time.Time
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root, now: time.Now}
}

func (a *ArtifactStore) path(sessionID types.SessionID, id types.ArtifactID) string {
	return filepath.Join(a.root, "sessions", string(sessionID), "artifacts", string(id)+".json")
}

// Put stores data produced by tool and returns its id.
func (a *ArtifactStore) Put(_ context.Context, sessionID types.SessionID, runID types.RunID, tool string, data string) (types.ArtifactID, error) {
	if err := checkID(string(sessionID)); err != nil {
		return "", err
	}
	id := types.NewArtifactID()
	content, err := json.Marshal(artifactFile{
		Meta: &types.ArtifactMeta{
			ID:        id,
			SessionID: sessionID,
			RunID:     runID,
			Tool:      tool,
			CreatedAt: a.now(),
			Size:      len(data),
		},
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	if err := writeFileAtomic(a.path(sessionID, id), content); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return id, nil
}

// Get returns an artifact's data and metadata.
func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) (string, *types.ArtifactMeta, error) {
	if err := checkID(string(id)); err != nil {
		return "", nil, err
	}
	matches, err := filepath.Glob(a.path("*", id))
	if err != nil {
		return "", nil, fmt.Errorf("glob artifact: %w", err)
	}
	if len(matches) == 0 {
		return "", nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	raw, err := os.ReadFile(matches[0])
	if err != nil {
		return "", nil, fmt.Errorf("read artifact: %w", err)
	}
	var f artifactFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return f.Data, f.Meta, nil
}
