package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const defaultMemoryUser = "default"

// FileMemory stores facts about each user as a markdown list at
// memory/<user>.md.
type FileMemory struct {
	root string
	mu   sync.Mutex
}

func NewFileMemory(root string) *FileMemory {
	return &FileMemory{root: root}
}

func (m *FileMemory) path(userID string) (string, error) {
	if userID == "" {
		userID = defaultMemoryUser
	}
	if err := checkID(userID); err != nil {
		return "", err
	}
	return filepath.Join(m.root, "memory", userID+".md"), nil
}

func (m *FileMemory) read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memory: %w", err)
	}
	var facts []string
	for _, line := range strings.Split(string(data), "\n") {
		if fact := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- ")); fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts, nil
}

func (m *FileMemory) write(path string, facts []string) error {
	var sb strings.Builder
	for _, f := range facts {
		sb.WriteString("- " + f + "\n")
	}
	return writeFileAtomic(path, []byte(sb.String()))
}

// Add stores a fact. It reports false when the fact was already known.
func (m *FileMemory) Add(_ context.Context, userID, fact string) (bool, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return false, fmt.Errorf("empty fact")
	}
	path, err := m.path(userID)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	facts, err := m.read(path)
	if err != nil {
		return false, err
	}
	for _, f := range facts {
		if f == fact {
			return false, nil
		}
	}
	return true, m.write(path, append(facts, fact))
}

// Remove deletes a fact. It reports false when the fact was not stored.
func (m *FileMemory) Remove(_ context.Context, userID, fact string) (bool, error) {
	path, err := m.path(userID)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	facts, err := m.read(path)
	if err != nil {
		return false, err
	}
	fact = strings.TrimSpace(fact)
	kept := facts[:0]
	for _, f := range facts {
		if f != fact {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(facts) {
		return false, nil
	}
	return true, m.write(path, kept)
}

// List returns every stored fact in insertion order.
func (m *FileMemory) List(_ context.Context, userID string) ([]string, error) {
	path, err := m.path(userID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(path)
}

// Search returns up to limit facts sharing words with query, best matches
// first and ties in insertion order.
func (m *FileMemory) Search(ctx context.Context, userID, query string, limit int) ([]string, error) {
	facts, err := m.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(query))

	type hit struct {
		fact  string
		score int
	}
	var hits []hit
	for _, f := range facts {
		lower := strings.ToLower(f)
		score := 0
		for _, w := range words {
			if len(w) > 2 && strings.Contains(lower, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{f, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]string, 0, limit)
	for _, h := range hits {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h.fact)
	}
	return out, nil
}
