// Package openai implements llm.Provider for OpenAI-compatible chat
// completion APIs.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/user/metatron/pkg/llm"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

const providerName = "openai"

// Client implements llm.Provider over /chat/completions.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client. An empty BaseURL targets DefaultBaseURL.
func New(config *llm.Config, opts ...Option) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	c := &Client{config: config}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: config.CallTimeout()}
	}
	return c
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	Tools         []llm.Tool     `json:"tools,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float32       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// wireMessage differs from llm.Message in carrying tool arguments as a
// JSON-encoded string.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *wireUsage) usage() llm.Usage {
	if u == nil {
		return llm.Usage{}
	}
	return llm.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

type chatResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func toWire(msg llm.Message) wireMessage {
	wm := wireMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
	if msg.Role == llm.RoleTool {
		wm.Name = msg.Name
	}
	for _, tc := range msg.ToolCalls {
		var w wireToolCall
		w.ID, w.Type = tc.ID, "function"
		w.Function.Name = tc.Function.Name
		w.Function.Arguments = string(tc.Function.Arguments)
		if w.Function.Arguments == "" {
			w.Function.Arguments = "{}"
		}
		wm.ToolCalls = append(wm.ToolCalls, w)
	}
	return wm
}

// arguments turns the wire string back into raw JSON. Malformed output is
// kept as a JSON string so it still marshals and the tool can reject it.
func arguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func fromWire(calls []wireToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for _, w := range calls {
		out = append(out, llm.ToolCall{
			ID:       w.ID,
			Type:     "function",
			Function: llm.FunctionCall{Name: w.Function.Name, Arguments: arguments(w.Function.Arguments)},
		})
	}
	return out
}

func (c *Client) newRequest(messages []llm.Message, tools []llm.Tool, stream bool) chatRequest {
	req := chatRequest{
		Model:     c.config.Model,
		Messages:  make([]wireMessage, len(messages)),
		Tools:     tools,
		MaxTokens: c.config.MaxTokens,
		Stream:    stream,
	}
	for i, m := range messages {
		req.Messages[i] = toWire(m)
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		req.Temperature = &temp
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

// post sends body and returns the response of a 200 answer. Other statuses
// become typed llm errors.
func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.config.BaseURL, "/")+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &llm.RetryableModelError{Err: fmt.Errorf("send request: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, apiError(resp.StatusCode, raw)
	}
	return resp, nil
}

// apiError prefers the message of an OpenAI error envelope over the raw
// body. Quota codes count as rate limits whatever the status.
func apiError(status int, raw []byte) error {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	body := string(raw)
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		body = env.Error.Message
		switch fmt.Sprint(env.Error.Code) {
		case "rate_limit_exceeded", "insufficient_quota":
			return &llm.RateLimitError{Err: &llm.APIError{Provider: providerName, StatusCode: status, Body: body}}
		}
	}
	return llm.ClassifyStatus(providerName, status, body)
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	resp, err := c.post(ctx, c.newRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	choice := out.Choices[0]
	return &llm.Response{
		Content:      choice.Message.Content,
		ToolCalls:    fromWire(choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
		Usage:        out.Usage.usage(),
	}, nil
}

// Stream requests a streamed completion. Text arrives as it is produced;
// tool calls are assembled from their fragments and sent in one final
// delta.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.Delta, error) {
	resp, err := c.post(ctx, c.newRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		send := func(d llm.Delta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		calls := make(map[int]*wireToolCall)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				break
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(llm.Delta{Err: fmt.Errorf("decode stream chunk: %w", err)})
				return
			}
			for _, choice := range chunk.Choices {
				mergeCalls(calls, choice.Delta.ToolCalls)
				if choice.Delta.Content != "" && !send(llm.Delta{Content: choice.Delta.Content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() == nil {
				send(llm.Delta{Err: &llm.RetryableModelError{Err: fmt.Errorf("read stream: %w", err)}})
			}
			return
		}
		if len(calls) > 0 {
			send(llm.Delta{ToolCalls: orderedCalls(calls)})
		}
	}()
	return ch, nil
}

// mergeCalls appends streamed fragments to the call at their index. The
// first fragment of a call carries its id and name.
func mergeCalls(calls map[int]*wireToolCall, frags []wireToolCall) {
	for i, f := range frags {
		idx := i
		if f.Index != nil {
			idx = *f.Index
		}
		cur, ok := calls[idx]
		if !ok {
			cur = &wireToolCall{}
			calls[idx] = cur
		}
		if f.ID != "" {
			cur.ID = f.ID
		}
		if f.Function.Name != "" {
			cur.Function.Name = f.Function.Name
		}
		cur.Function.Arguments += f.Function.Arguments
	}
}

func orderedCalls(calls map[int]*wireToolCall) []llm.ToolCall {
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	wire := make([]wireToolCall, 0, len(idx))
	for _, i := range idx {
		wire = append(wire, *calls[i])
	}
	return fromWire(wire)
}
