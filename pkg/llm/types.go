package llm

import (
	"encoding/json"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation. Assistant turns may carry
// ToolCalls; tool turns answer the call named by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Name is the function that produced a tool turn. Providers that match
	// results by name rather than id rely on it.
	Name string `json:"name,omitempty"`
}

// ToolResult returns the tool turn answering call.
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Function.Name}
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON arguments.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function is a tool declaration with its JSON Schema parameters.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// NewTool declares a function tool.
func NewTool(name, description string, parameters json.RawMessage) Tool {
	return Tool{Type: "function", Function: Function{Name: name, Description: description, Parameters: parameters}}
}

// Response is a complete model answer.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
}

// Usage counts the tokens of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Delta is an incremental piece of a streamed answer. A delta with a
// non-nil Err is the last one on its channel.
type Delta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Err       error      `json:"-"`
}

// Collect drains a delta channel into a Response.
func Collect(ch <-chan Delta) (*Response, error) {
	var (
		text strings.Builder
		resp Response
	)
	for d := range ch {
		if d.Err != nil {
			return nil, d.Err
		}
		text.WriteString(d.Content)
		resp.ToolCalls = append(resp.ToolCalls, d.ToolCalls...)
	}
	resp.Content = text.String()
	return &resp, nil
}
