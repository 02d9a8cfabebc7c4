package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Event is one line of a session transcript.
type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	RunID     RunID           `json:"run_id,omitempty"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// Transcript event types.
const (
	EventUserMessage      = "user_message"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventAssistantMessage = "assistant_message"
	EventError            = "error"
)

type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	SessionID SessionID  `json:"session_id"`
	RunID     RunID      `json:"run_id"`
	Tool      string     `json:"tool"`
	CreatedAt time.Time  `json:"created_at"`
	Size      int        `json:"size"`
}

// DeepResearchPrefix marks a message that should be answered with the
// research tool chain.
const DeepResearchPrefix = "[DEEP_RESEARCH_MODE]"

// DefaultWorkspace is used when a request names no workspace.
const DefaultWorkspace = "default"

// HistoryMessage is a prior turn supplied by the caller.
type HistoryMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ChatRequest is the inbound request accepted by every transport.
type ChatRequest struct {
	Message        string           `json:"message"`
	Workspace      string           `json:"workspace,omitempty"`
	MessageHistory []HistoryMessage `json:"message_history,omitempty"`
	Context        map[string]any   `json:"context,omitempty"`
	UserID         string           `json:"-"`
	Source         string           `json:"-"`
}

// WorkspaceOrDefault returns the workspace, falling back to "default".
func (r *ChatRequest) WorkspaceOrDefault() string {
	if strings.TrimSpace(r.Workspace) == "" {
		return DefaultWorkspace
	}
	return r.Workspace
}

// DeepResearch reports whether the request asks for deep research, either
// through the message prefix or a boolean "deep_research" context flag.
func (r *ChatRequest) DeepResearch() bool {
	if strings.HasPrefix(strings.TrimSpace(r.Message), DeepResearchPrefix) {
		return true
	}
	v, _ := r.Context["deep_research"].(bool)
	return v
}

// NormalizedMessage returns the message to hand to the model. Deep research
// requests always carry exactly one prefix followed by the bare query.
func (r *ChatRequest) NormalizedMessage() string {
	msg := strings.TrimSpace(r.Message)
	if !r.DeepResearch() {
		return msg
	}
	query := strings.TrimSpace(strings.TrimPrefix(msg, DeepResearchPrefix))
	return DeepResearchPrefix + " " + query
}

// ContentType is the coarse rendering hint returned to clients.
type ContentType string

const (
	ContentText        ContentType = "text"
	ContentRich        ContentType = "rich"
	ContentInteractive ContentType = "interactive"
)

// ToolUsage records one tool call in the response envelope.
type ToolUsage struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Input       json.RawMessage `json:"input"`
	Output      string          `json:"output"`
}

// ContentMetadata tells the client where to render the response.
type ContentMetadata struct {
	ContentType      string         `json:"content_type"`
	DisplayMode      string         `json:"display_mode"`
	HasVisualContent bool           `json:"has_visual_content"`
	ContentData      map[string]any `json:"content_data,omitempty"`
}

// ChatResponse is the structured single-shot response. The streaming
// transport carries the same value in its complete chunk.
type ChatResponse struct {
	Response        string           `json:"response"`
	ToolsUsed       []ToolUsage      `json:"tools_used"`
	Workspace       string           `json:"workspace"`
	Timestamp       string           `json:"timestamp"`
	AgentStatus     string           `json:"agent_status"`
	ContentType     ContentType      `json:"content_type"`
	RequiresCanvas  bool             `json:"requires_canvas"`
	ContentMetadata *ContentMetadata `json:"content_metadata,omitempty"`
	SessionID       SessionID        `json:"session_id,omitempty"`
}
