package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type RunID string
type EventID string
type ArtifactID string
type CallID string

// LaneKey identifies a FIFO lane in the gateway queue. Requests sharing a
// key are processed one at a time.
type LaneKey string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

// NewCallID returns a tool call id for providers that do not assign one.
func NewCallID() CallID {
	return CallID("call_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24])
}

func NewLaneKey(parts ...string) LaneKey {
	return LaneKey(strings.Join(parts, ":"))
}
