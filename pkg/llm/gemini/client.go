// Package gemini implements llm.Provider on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/user/metatron/pkg/llm"
)

// DefaultModel is used when the configuration names none.
const DefaultModel = "gemini-2.0-flash"

// Client implements the llm.Provider interface for the Gemini API.
type Client struct {
	config *llm.Config
	models *genai.Models
}

// New creates a Gemini client. BaseURL, when set, overrides the API
// endpoint.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	return &Client{config: config, models: client.Models}, nil
}

// Complete sends a generate request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout())
	defer cancel()

	contents, cfg, err := c.buildRequest(messages, tools)
	if err != nil {
		return nil, err
	}
	resp, err := c.models.GenerateContent(ctx, c.config.Model, contents, cfg)
	if err != nil {
		return nil, classifyError(err)
	}
	return convertResponse(resp), nil
}

// Stream sends a generate request and delivers text and tool calls as they
// arrive.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.Delta, error) {
	contents, cfg, err := c.buildRequest(messages, tools)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		for resp, err := range c.models.GenerateContentStream(ctx, c.config.Model, contents, cfg) {
			var d llm.Delta
			if err != nil {
				d.Err = classifyError(err)
			} else {
				r := convertResponse(resp)
				if r.Content == "" && len(r.ToolCalls) == 0 {
					continue
				}
				d.Content, d.ToolCalls = r.Content, r.ToolCalls
			}
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
			if d.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) buildRequest(messages []llm.Message, tools []llm.Tool) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		cfg.Temperature = &temp
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			content, err := assistantContent(msg)
			if err != nil {
				return nil, nil, err
			}
			contents = append(contents, content)
		case llm.RoleTool:
			contents = append(contents, toolResultContent(msg))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	decls, err := convertTools(tools)
	if err != nil {
		return nil, nil, err
	}
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return contents, cfg, nil
}

func assistantContent(msg llm.Message) (*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(msg.ToolCalls)+1)
	if msg.Content != "" {
		parts = append(parts, genai.NewPartFromText(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if len(tc.Function.Arguments) > 0 {
			if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments of %s: %w", tc.Function.Name, err)
			}
		}
		parts = append(parts, genai.NewPartFromFunctionCall(tc.Function.Name, args))
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(""))
	}
	return genai.NewContentFromParts(parts, genai.RoleModel), nil
}

// Tool results travel as a function response named after the call.
func toolResultContent(msg llm.Message) *genai.Content {
	part := genai.NewPartFromFunctionResponse(msg.Name, map[string]any{"result": msg.Content})
	if part.FunctionResponse != nil {
		part.FunctionResponse.ID = msg.ToolCallID
	}
	return genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser)
}

func convertTools(tools []llm.Tool) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
		}
		if len(t.Function.Parameters) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("decoding schema of %s: %w", t.Function.Name, err)
			}
			decl.ParametersJsonSchema = schema
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.Response {
	out := &llm.Response{}
	if resp == nil {
		return out
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				args = []byte("{}")
			}
			id := fc.ID
			if id == "" {
				id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:       id,
				Type:     "function",
				Function: llm.FunctionCall{Name: fc.Name, Arguments: args},
			})
		}
	}
	out.Content = text.String()
	return out
}

// classifyError maps SDK failures onto the typed llm errors. The SDK reports
// quota exhaustion as HTTP 429 with status RESOURCE_EXHAUSTED.
func classifyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return &llm.RateLimitError{Err: err}
	case strings.Contains(msg, "UNAVAILABLE") || strings.Contains(msg, "INTERNAL") ||
		strings.Contains(msg, "Error 500") || strings.Contains(msg, "Error 503"):
		return &llm.RetryableModelError{Err: err}
	default:
		return fmt.Errorf("gemini generate: %w", err)
	}
}
