package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/pkg/llm"
)

// ErrUnknownTool is returned by Invoke for names that were never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Workspaces with a tool priority list.
const (
	WorkspaceResearch = "research"
	WorkspaceCreative = "creative"
)

var workspacePriority = map[string][]string{
	WorkspaceResearch: {"deep_research", "nano_perplexity_search", "search_wikipedia", "research_news"},
	WorkspaceCreative: {"use_creative_studio", "understand_media"},
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolFunc executes a tool. deps is shared by every call of a request and
// must not be modified.
type ToolFunc func(ctx context.Context, deps *types.Deps, args json.RawMessage) (string, error)

// Tool describes a registered tool.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Func        ToolFunc
}

// Builder collects tool registrations. It is not safe for concurrent use.
type Builder struct {
	tools []Tool
	seen  map[string]bool
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[string]bool)}
}

// Register adds a tool. Names must be unique and non-empty.
func (b *Builder) Register(name, description string, schema json.RawMessage, fn ToolFunc) error {
	if name == "" {
		return errors.New("register tool: empty name")
	}
	if fn == nil {
		return fmt.Errorf("register tool %s: nil function", name)
	}
	if b.seen[name] {
		return fmt.Errorf("register tool %s: already registered", name)
	}
	if len(schema) == 0 {
		schema = emptySchema
	} else if !json.Valid(schema) {
		return fmt.Errorf("register tool %s: invalid parameter schema", name)
	}

	b.seen[name] = true
	b.tools = append(b.tools, Tool{Name: name, Description: description, Parameters: schema, Func: fn})
	return nil
}

// Build freezes the registrations into a Registry. The Builder may keep
// being used; later registrations do not affect built registries.
func (b *Builder) Build() *Registry {
	r := &Registry{
		tools:  append([]Tool(nil), b.tools...),
		byName: make(map[string]int, len(b.tools)),
	}
	for i, t := range r.tools {
		r.byName[t.Name] = i
	}
	return r
}

// Registry is an immutable set of tools, safe for concurrent use.
type Registry struct {
	tools  []Tool
	byName map[string]int
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// All returns every tool in registration order.
func (r *Registry) All() []Tool {
	return append([]Tool(nil), r.tools...)
}

// Names returns every tool name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Name
	}
	return out
}

// Select returns the tool names offered for a request: every tool in
// registration order, with the workspace's priority tools in front.
// Research mode uses the research priority regardless of workspace.
// Prioritised names also appear at their registration position.
func (r *Registry) Select(deps *types.Deps) []string {
	workspace := types.DefaultWorkspace
	if deps != nil {
		workspace = deps.Workspace
		if deps.DeepResearch {
			workspace = WorkspaceResearch
		}
	}

	var out []string
	for _, name := range workspacePriority[workspace] {
		if _, ok := r.byName[name]; ok {
			out = append(out, name)
		}
	}
	return append(out, r.Names()...)
}

// Invoke runs the named tool. The dispatcher does not retry; tools apply
// their own policy to outbound calls.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage, deps *types.Deps) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return t.Func(ctx, deps, args)
}

// AsLLMTools converts the named tools to the LLM provider format. Repeated
// and unknown names are skipped.
func (r *Registry) AsLLMTools(names []string) []llm.Tool {
	seen := make(map[string]bool, len(names))
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, llm.NewTool(t.Name, t.Description, t.Parameters))
	}
	return out
}
