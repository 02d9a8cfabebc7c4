package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/metatron/internal/types"
)

// maxEventLine bounds a single transcript line; tool results are truncated
// before they are recorded.
const maxEventLine = 1 << 20

// EventStore is an append-only JSONL transcript store with one file per
// session at sessions/<id>/events.jsonl.
type EventStore struct {
	root string

	mu   sync.Mutex
	logs map[types.SessionID]*sessionLog
}

type sessionLog struct {
	mu     sync.Mutex
	seq    int64
	loaded bool
}

func NewEventStore(root string) *EventStore {
	return &EventStore{root: root, logs: make(map[types.SessionID]*sessionLog)}
}

func (e *EventStore) log(id types.SessionID) *sessionLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.logs[id]
	if !ok {
		l = &sessionLog{}
		e.logs[id] = l
	}
	return l
}

func (e *EventStore) sessionDir(id types.SessionID) string {
	return filepath.Join(e.root, "sessions", string(id))
}

func (e *EventStore) eventsPath(id types.SessionID) string {
	return filepath.Join(e.sessionDir(id), "events.jsonl")
}

// scan calls fn for every stored event of a session.
func (e *EventStore) scan(id types.SessionID, fn func(*types.Event)) error {
	f, err := os.Open(e.eventsPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		var ev types.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		fn(&ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events file: %w", err)
	}
	return nil
}

// Append stores event with the next sequence number of its session.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	if err := checkID(string(event.SessionID)); err != nil {
		return err
	}
	l := e.log(event.SessionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		var n int64
		if err := e.scan(event.SessionID, func(*types.Event) { n++ }); err != nil {
			return err
		}
		l.seq, l.loaded = n, true
	}

	if err := os.MkdirAll(e.sessionDir(event.SessionID), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	event.Seq = l.seq + 1
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(e.eventsPath(event.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	l.seq = event.Seq
	return nil
}

// Tail returns the last limit events of a session in order. A non-positive
// limit returns all of them.
func (e *EventStore) Tail(_ context.Context, id types.SessionID, limit int) ([]*types.Event, error) {
	if err := checkID(string(id)); err != nil {
		return nil, err
	}
	l := e.log(id)
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []*types.Event
	if err := e.scan(id, func(ev *types.Event) { events = append(events, ev) }); err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Count returns the number of events recorded for a session.
func (e *EventStore) Count(_ context.Context, id types.SessionID) (int64, error) {
	if err := checkID(string(id)); err != nil {
		return 0, err
	}
	l := e.log(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.seq, nil
	}
	var n int64
	err := e.scan(id, func(*types.Event) { n++ })
	return n, err
}

// SessionSummary describes one stored transcript.
type SessionSummary struct {
	SessionID types.SessionID `json:"session_id"`
	Events    int64           `json:"event_count"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// List returns every stored session, most recently written first.
func (e *EventStore) List(ctx context.Context) ([]SessionSummary, error) {
	entries, err := os.ReadDir(filepath.Join(e.root, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var out []SessionSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := types.SessionID(entry.Name())
		info, err := os.Stat(e.eventsPath(id))
		if err != nil {
			continue
		}
		n, err := e.Count(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionSummary{SessionID: id, Events: n, UpdatedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Prune deletes sessions whose transcript was last written before cutoff
// and returns how many were removed.
func (e *EventStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(filepath.Join(e.root, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read sessions dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := types.SessionID(entry.Name())
		info, err := os.Stat(e.eventsPath(id))
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := e.remove(id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Delete removes a session's transcript. It returns ErrNotFound if the
// session has no stored events.
func (e *EventStore) Delete(_ context.Context, id types.SessionID) error {
	if err := checkID(string(id)); err != nil {
		return err
	}
	if _, err := os.Stat(e.sessionDir(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("stat session: %w", err)
	}
	return e.remove(id)
}

func (e *EventStore) remove(id types.SessionID) error {
	l := e.log(id)
	l.mu.Lock()
	err := os.RemoveAll(e.sessionDir(id))
	l.loaded = false
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	e.mu.Lock()
	delete(e.logs, id)
	e.mu.Unlock()
	return nil
}
