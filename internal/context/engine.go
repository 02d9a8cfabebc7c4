// Package context assembles token-budgeted prompts for the LLM.
package context

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/pkg/llm"
)

// historyShare is the fraction of the remaining input budget that caller
// supplied history may use.
const historyShare = 0.7

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	tmpl      *template.Template
	maxTokens int
	reserve   int
	now       func() time.Time
}

// PromptData is the data the system prompt template is rendered with.
type PromptData struct {
	Time         string
	Workspace    string
	Tools        []string
	DeepResearch bool
	Memory       string
}

// Input describes one prompt to build.
type Input struct {
	Workspace    string
	DeepResearch bool
	Tools        []string
	Memory       string
	History      []types.HistoryMessage
	Message      string
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
// promptTemplate overrides DefaultPrompt when non-empty.
func New(model string, maxTokens, reserve int, promptTemplate string) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Gemini and other non-OpenAI models fall back to cl100k_base
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	if promptTemplate == "" {
		promptTemplate = DefaultPrompt
	}
	tmpl, err := template.New("system").Funcs(template.FuncMap{"join": strings.Join}).Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Engine{
		tokenizer: enc,
		tmpl:      tmpl,
		maxTokens: maxTokens,
		reserve:   reserve,
		now:       time.Now,
	}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// SystemPrompt renders the system prompt for in.
func (e *Engine) SystemPrompt(in Input) (string, error) {
	var buf bytes.Buffer
	err := e.tmpl.Execute(&buf, PromptData{
		Time:         e.now().Format(time.RFC3339),
		Workspace:    in.Workspace,
		Tools:        in.Tools,
		DeepResearch: in.DeepResearch,
		Memory:       in.Memory,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

// BuildPrompt returns the system prompt, as much recent history as fits the
// budget, and the current message. The system prompt and the current message
// are always included; history is dropped oldest first.
func (e *Engine) BuildPrompt(in Input) ([]llm.Message, error) {
	sys, err := e.SystemPrompt(in)
	if err != nil {
		return nil, err
	}

	remaining := e.maxTokens - e.reserve - e.CountTokens(sys) - e.CountTokens(in.Message)
	budget := int(float64(remaining) * historyShare)

	// walk backwards so the newest turns win the budget
	start := len(in.History)
	used := 0
	for i := len(in.History) - 1; i >= 0; i-- {
		h := in.History[i]
		if role(h.Role) == "" || strings.TrimSpace(h.Content) == "" {
			continue
		}
		n := e.CountTokens(h.Content)
		if used+n > budget {
			break
		}
		used += n
		start = i
	}

	messages := make([]llm.Message, 0, len(in.History)-start+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sys})
	for _, h := range in.History[start:] {
		r := role(h.Role)
		if r == "" || strings.TrimSpace(h.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: r, Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Message})
	return messages, nil
}

// role maps client history roles onto provider roles. Unknown roles are
// dropped.
func role(r string) string {
	switch strings.ToLower(r) {
	case "user", "human":
		return "user"
	case "assistant", "model", "ai":
		return "assistant"
	default:
		return ""
	}
}
