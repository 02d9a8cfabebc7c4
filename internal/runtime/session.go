package runtime

import (
	"fmt"

	"github.com/user/metatron/internal/intent"
	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/types"
)

// State is a session lifecycle state.
type State string

const (
	StateInit        State = "INIT"
	StateDispatching State = "DISPATCHING"
	StateToolRunning State = "TOOL_RUNNING"
	StateFormatting  State = "FORMATTING"
	StateComplete    State = "COMPLETE"
	StateError       State = "ERROR"
)

// ERROR is reachable from every non-terminal state and is not listed.
var transitions = map[State][]State{
	StateInit:        {StateDispatching},
	StateDispatching: {StateToolRunning, StateFormatting},
	StateToolRunning: {StateDispatching},
	StateFormatting:  {StateComplete},
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool { return s == StateComplete || s == StateError }

// Session is the per-request state of one orchestration. It is owned by the
// goroutine running it.
type Session struct {
	ID        types.SessionID
	RunID     types.RunID
	Request   *types.ChatRequest
	Deps      *types.Deps
	Message   string
	Detection intent.Detection

	ToolsUsed  []types.ToolUsage
	Executions []resilience.ExecutionMetadata

	notes       []string
	rateLimited bool
	state       State
	history     []State
}

func newSession(req *types.ChatRequest, deps *types.Deps) *Session {
	s := &Session{
		ID:      deps.SessionID,
		RunID:   types.NewRunID(),
		Request: req,
		Deps:    deps,
		Message: req.NormalizedMessage(),
		state:   StateInit,
	}
	s.history = []State{StateInit}
	return s
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// History returns every state the session has been in, in order.
func (s *Session) History() []State { return append([]State(nil), s.history...) }

func (s *Session) transition(to State) error {
	if s.state.Terminal() {
		return fmt.Errorf("session %s: transition %s -> %s after end", s.ID, s.state, to)
	}
	if to == StateError {
		s.enter(to)
		return nil
	}
	for _, next := range transitions[s.state] {
		if next == to {
			s.enter(to)
			return nil
		}
	}
	return fmt.Errorf("session %s: invalid transition %s -> %s", s.ID, s.state, to)
}

func (s *Session) enter(st State) {
	s.state = st
	s.history = append(s.history, st)
}

func (s *Session) toolNames() []string {
	out := make([]string, len(s.ToolsUsed))
	for i, u := range s.ToolsUsed {
		out[i] = u.Name
	}
	return out
}

// SessionError is returned by Run when a session ends in ERROR.
type SessionError struct {
	// State is the state the session failed in.
	State State
	// UserMessage is safe to show to end users.
	UserMessage string
	Err         error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failed in %s: %v", e.State, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
