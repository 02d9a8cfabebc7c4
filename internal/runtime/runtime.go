// Package runtime runs orchestration sessions: it plans with the LLM,
// dispatches tool calls through the registry, and streams the result.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	ctxengine "github.com/user/metatron/internal/context"
	"github.com/user/metatron/internal/intent"
	"github.com/user/metatron/internal/observability"
	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/pkg/llm"
)

const (
	artifactThreshold  = 2000
	defaultMaxRounds   = 10
	defaultMaxParallel = 4
)

// RateLimitResponse is returned, as a successful answer, when the model
// provider refuses a request for quota reasons.
const RateLimitResponse = "**Rate Limit Reached**\n\n" +
	"I've hit the model provider's rate limit. Please wait a moment and try again.\n\n" +
	"Your request will work once the limit resets, usually within a minute."

// emptyResponse is used when the model returns no text.
const emptyResponse = "I wasn't able to produce an answer for that. Please try rephrasing your request."

// Orchestrator runs sessions. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	provider     llm.Provider
	providerName string
	engine       *ctxengine.Engine
	registry     *Registry
	events       types.EventStore
	artifacts    types.ArtifactStore
	exec         *resilience.Executor
	llmPolicy    resilience.RetryPolicy
	services     types.Services
	config       map[string]any
	metrics      *observability.Metrics
	logger       *slog.Logger
	maxRounds    int
	maxParallel  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithServices(s types.Services) Option {
	return func(o *Orchestrator) { o.services = s }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithExecutor sets the executor used for model calls.
func WithExecutor(x *resilience.Executor) Option {
	return func(o *Orchestrator) { o.exec = x }
}

// WithLLMPolicy sets the retry policy for model calls. Only transient
// provider faults are retried.
func WithLLMPolicy(p resilience.RetryPolicy) Option {
	return func(o *Orchestrator) { o.llmPolicy = p }
}

// WithProviderName labels model call metrics.
func WithProviderName(name string) Option {
	return func(o *Orchestrator) { o.providerName = name }
}

// WithConfig sets the configuration map handed to tools in Deps.
func WithConfig(cfg map[string]any) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithLimits bounds tool rounds per session and concurrent tool calls per
// round. Non-positive values keep the defaults.
func WithLimits(maxRounds, maxParallel int) Option {
	return func(o *Orchestrator) {
		if maxRounds > 0 {
			o.maxRounds = maxRounds
		}
		if maxParallel > 0 {
			o.maxParallel = maxParallel
		}
	}
}

// New creates an Orchestrator. events and artifacts may be nil, in which
// case no transcript is kept.
func New(provider llm.Provider, engine *ctxengine.Engine, registry *Registry, events types.EventStore, artifacts types.ArtifactStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:     provider,
		providerName: "llm",
		engine:       engine,
		registry:     registry,
		events:       events,
		artifacts:    artifacts,
		llmPolicy:    resilience.QuickRetryPolicy(),
		logger:       slog.Default(),
		maxRounds:    defaultMaxRounds,
		maxParallel:  defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.exec == nil {
		o.exec = resilience.NewExecutor(resilience.WithLogger(o.logger), resilience.WithMetrics(o.metrics))
	}
	return o
}

// Registry returns the tool registry sessions dispatch to.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Deps builds the per-request tool dependencies.
func (o *Orchestrator) Deps(req *types.ChatRequest) *types.Deps {
	return &types.Deps{
		SessionID:    types.NewSessionID(),
		UserID:       req.UserID,
		Workspace:    req.WorkspaceOrDefault(),
		DeepResearch: req.DeepResearch(),
		Config:       o.config,
		Services:     o.services,
	}
}

// Run executes one request end to end, emitting chunks to sink. A session
// that ends in ERROR returns a *SessionError and emits exactly one error
// chunk; otherwise the final response is returned and carried by the
// complete chunk.
func (o *Orchestrator) Run(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
	s := newSession(req, o.Deps(req))
	asm := stream.NewAssembler(sink)
	log := o.logger.With("session_id", string(s.ID), "workspace", s.Deps.Workspace)

	o.metrics.SessionStarted()
	resp, err := o.run(ctx, s, asm, log)
	o.metrics.SessionEnded(string(s.State()))
	return resp, err
}

func (o *Orchestrator) run(ctx context.Context, s *Session, asm *stream.Assembler, log *slog.Logger) (*types.ChatResponse, error) {
	query := strings.TrimSpace(strings.TrimPrefix(s.Message, types.DeepResearchPrefix))
	s.Detection = intent.Classify(query)
	o.record(ctx, s, types.EventUserMessage, source(s), map[string]any{
		"text":          s.Message,
		"workspace":     s.Deps.Workspace,
		"deep_research": s.Deps.DeepResearch,
		"detection":     s.Detection,
	})
	log.Info("session started",
		"deep_research", s.Deps.DeepResearch,
		"content_type", s.Detection.PrimaryContentType,
		"confidence", s.Detection.Confidence)

	names := o.registry.Select(s.Deps)
	messages, err := o.engine.BuildPrompt(ctxengine.Input{
		Workspace:    s.Deps.Workspace,
		DeepResearch: s.Deps.DeepResearch,
		Tools:        dedupe(names),
		History:      s.Request.MessageHistory,
		Message:      s.Message,
	})
	if err != nil {
		return nil, o.fail(ctx, s, asm, log, fmt.Errorf("build prompt: %w", err))
	}
	tools := o.registry.AsLLMTools(names)

	var answer string
	for round := 0; ; round++ {
		if err := s.transition(StateDispatching); err != nil {
			return nil, o.fail(ctx, s, asm, log, err)
		}
		if round == 0 {
			if err := asm.Status(ctx, "initializing", 10); err != nil {
				return nil, o.fail(ctx, s, asm, log, err)
			}
		}
		offered := tools
		if round >= o.maxRounds {
			log.Warn("tool round limit reached, asking for a final answer", "rounds", round)
			offered = nil
		}

		resp, err := o.complete(ctx, messages, offered)
		if err != nil {
			if llm.IsRateLimit(err) && ctx.Err() == nil {
				log.Warn("model rate limited", "error", err)
				s.rateLimited = true
				answer = RateLimitResponse
				break
			}
			return nil, o.fail(ctx, s, asm, log, fmt.Errorf("model call: %w", err))
		}
		if len(resp.ToolCalls) == 0 || offered == nil {
			answer = resp.Content
			break
		}

		if err := s.transition(StateToolRunning); err != nil {
			return nil, o.fail(ctx, s, asm, log, err)
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		results, err := o.runTools(ctx, s, asm, log, resp.ToolCalls)
		if err != nil {
			return nil, o.fail(ctx, s, asm, log, err)
		}
		messages = append(messages, results...)
	}

	if err := s.transition(StateFormatting); err != nil {
		return nil, o.fail(ctx, s, asm, log, err)
	}
	resp, err := o.format(ctx, s, asm, answer)
	if err != nil {
		return nil, o.fail(ctx, s, asm, log, err)
	}
	if err := s.transition(StateComplete); err != nil {
		return nil, o.fail(ctx, s, asm, log, err)
	}
	if err := asm.Complete(ctx, map[string]any{"response": resp}); err != nil {
		// the stream is already closed; only the client missed the result
		log.Warn("complete chunk not delivered", "error", err)
	}
	log.Info("session complete", "tools", len(s.ToolsUsed), "content_type", resp.ContentType)
	return resp, nil
}

func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	resp, _, err := resilience.Execute(ctx, o.exec, "llm", o.llmPolicy, func(ctx context.Context) (*llm.Response, error) {
		r, err := o.provider.Complete(ctx, messages, tools)
		if err != nil && !llm.IsRetryable(err) {
			return nil, resilience.Permanent(err)
		}
		return r, err
	})
	status := "success"
	switch {
	case llm.IsRateLimit(err):
		status = "rate_limited"
	case err != nil:
		status = "error"
	}
	o.metrics.RecordLLMRequest(o.providerName, status)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	return resp, nil
}

type toolResult struct {
	call   llm.ToolCall
	output string
	err    error
	meta   resilience.ExecutionMetadata
}

// runTools executes one planning round. Calls run concurrently; chunks,
// transcript entries and the returned tool messages follow call order.
func (o *Orchestrator) runTools(ctx context.Context, s *Session, asm *stream.Assembler, log *slog.Logger, calls []llm.ToolCall) ([]llm.Message, error) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = string(types.NewCallID())
		}
		c := calls[i]
		if err := asm.Tool(ctx, c.Function.Name, map[string]any{"status": "running", "call_id": c.ID}); err != nil {
			return nil, err
		}
		o.record(ctx, s, types.EventToolCall, "runtime", map[string]any{
			"tool":      c.Function.Name,
			"call_id":   c.ID,
			"arguments": c.Function.Arguments,
		})
	}

	results := make([]toolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i, c := range calls {
		g.Go(func() error {
			results[i] = o.invoke(gctx, s, c)
			if resilience.IsSessionFatal(results[i].err) {
				return results[i].err
			}
			return nil
		})
	}
	fatal := g.Wait()

	msgs := make([]llm.Message, 0, len(results))
	for _, r := range results {
		name := r.call.Function.Name
		content := r.output
		status := "success"
		if r.err != nil {
			status = "error"
			content = failureNote(name, r.err)
			if !errors.Is(r.err, context.Canceled) {
				s.notes = append(s.notes, content)
			}
			log.Warn("tool failed", "tool", name, "retries", r.meta.RetryCount,
				"elapsed", r.meta.ExecutionTime, "category", resilience.Classify(r.err), "error", r.err)
		}

		if err := asm.Tool(ctx, name, map[string]any{
			"status":         status,
			"call_id":        r.call.ID,
			"execution_time": r.meta.ExecutionTime.Seconds(),
			"retry_count":    r.meta.RetryCount,
		}); err != nil {
			return nil, err
		}
		o.recordToolResult(ctx, s, r, content)

		desc := ""
		if t, ok := o.registry.Get(name); ok {
			desc = t.Description
		}
		s.ToolsUsed = append(s.ToolsUsed, types.ToolUsage{
			Name:        name,
			Description: desc,
			Input:       r.call.Function.Arguments,
			Output:      truncate(content, artifactThreshold),
		})
		s.Executions = append(s.Executions, r.meta)
		msgs = append(msgs, llm.ToolResult(r.call, content))
	}

	if fatal != nil {
		return nil, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (o *Orchestrator) invoke(ctx context.Context, s *Session, c llm.ToolCall) toolResult {
	tctx, trace := resilience.WithTrace(ctx)
	start := time.Now()
	out, err := o.registry.Invoke(tctx, c.Function.Name, c.Function.Arguments, s.Deps)
	return toolResult{
		call:   c,
		output: out,
		err:    err,
		meta: resilience.ExecutionMetadata{
			ToolName:      c.Function.Name,
			ExecutionTime: time.Since(start),
			Success:       err == nil,
			RetryCount:    trace.Retries(),
			Source:        "orchestrator",
			Timestamp:     start,
			Err:           err,
		},
	}
}

// failureNote is what the model and the user see for a failed tool call.
func failureNote(name string, err error) string {
	var ex *resilience.ExhaustedError
	switch {
	case errors.Is(err, ErrUnknownTool):
		return fmt.Sprintf("Tool %s is not available.", name)
	case errors.As(err, &ex):
		return fmt.Sprintf("The %s tool failed after %d retries. %s", name, ex.Attempts, resilience.UserMessage(err))
	default:
		return fmt.Sprintf("The %s tool failed. %s", name, resilience.UserMessage(err))
	}
}

func (o *Orchestrator) format(ctx context.Context, s *Session, asm *stream.Assembler, answer string) (*types.ChatResponse, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = emptyResponse
	}
	if len(s.notes) > 0 && !s.rateLimited {
		answer += "\n\n_" + strings.Join(s.notes, "_\n_") + "_"
	}

	if err := asm.Text(ctx, answer, nil); err != nil {
		return nil, err
	}

	routing := intent.Routing{ContentType: intent.Text, DisplayMode: intent.ChatArea}
	var rich intent.RichContent
	if !s.rateLimited {
		routing = intent.Route(s.Detection, s.toolNames(), answer)
		rich = intent.Analyze(answer)
	}
	for _, m := range rich.Media {
		meta := map[string]any{"media_type": string(m.Type), "title": m.Title, "description": m.Description}
		if m.Thumbnail != "" {
			meta["thumbnail"] = m.Thumbnail
		}
		if err := asm.Media(ctx, m.URL, meta); err != nil {
			return nil, err
		}
	}
	if err := asm.Status(ctx, "finalizing", 90); err != nil {
		return nil, err
	}

	status := "active"
	if s.rateLimited {
		status = "rate_limited"
	}
	resp := &types.ChatResponse{
		Response:       answer,
		ToolsUsed:      s.ToolsUsed,
		Workspace:      s.Deps.Workspace,
		Timestamp:      time.Now().Format(time.RFC3339),
		AgentStatus:    status,
		ContentType:    contentType(routing, rich),
		RequiresCanvas: rich.RequiresCanvas || routing.DisplayMode == intent.ContentArea,
		ContentMetadata: &types.ContentMetadata{
			ContentType:      string(routing.ContentType),
			DisplayMode:      string(routing.DisplayMode),
			HasVisualContent: routing.HasVisualContent,
			ContentData:      routing.ContentData,
		},
		SessionID: s.ID,
	}
	if resp.ToolsUsed == nil {
		resp.ToolsUsed = []types.ToolUsage{}
	}
	o.record(ctx, s, types.EventAssistantMessage, "runtime", map[string]any{
		"text":         answer,
		"content_type": resp.ContentType,
		"executions":   s.Executions,
	})
	return resp, nil
}

func contentType(r intent.Routing, rc intent.RichContent) types.ContentType {
	switch {
	case r.ContentType == intent.Chart || r.ContentType == intent.Map:
		return types.ContentInteractive
	case r.HasVisualContent || rc.RequiresCanvas:
		return types.ContentRich
	default:
		return types.ContentText
	}
}

// fail moves the session to ERROR and emits the single error chunk. The
// raw error is logged and recorded; the client only sees the taxonomy
// message.
func (o *Orchestrator) fail(ctx context.Context, s *Session, asm *stream.Assembler, log *slog.Logger, err error) error {
	from := s.State()
	s.transition(StateError)

	msg := userMessage(err)
	if ctx.Err() != nil {
		msg = "The request was cancelled."
		log.Info("session cancelled", "state", from, "error", err)
	} else {
		log.Error("session failed", "state", from, "category", resilience.Classify(err), "error", err)
	}

	bg := context.WithoutCancel(ctx)
	o.record(bg, s, types.EventError, "runtime", map[string]any{
		"error":    err.Error(),
		"state":    from,
		"category": resilience.Classify(err),
	})
	if !asm.Closed() {
		if serr := asm.Error(ctx, msg); serr != nil {
			log.Debug("error chunk not delivered", "error", serr)
		}
	}
	return &SessionError{State: from, UserMessage: msg, Err: err}
}

// userMessage maps model and tool failures onto the taxonomy's user text.
func userMessage(err error) string {
	var apiErr *llm.APIError
	switch {
	case llm.IsRetryable(err):
		return resilience.UserMessageFor(resilience.CategoryConnection)
	case errors.As(err, &apiErr):
		return resilience.UserMessage(&resilience.StatusError{
			Service:    apiErr.Provider,
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.Body,
		})
	default:
		return resilience.UserMessage(err)
	}
}

func (o *Orchestrator) record(ctx context.Context, s *Session, typ, source string, payload map[string]any) {
	if o.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Warn("encode transcript event", "type", typ, "error", err)
		return
	}
	err = o.events.Append(ctx, &types.Event{
		ID:        types.NewEventID(),
		SessionID: s.ID,
		RunID:     s.RunID,
		Type:      typ,
		Source:    source,
		At:        time.Now(),
		Payload:   data,
	})
	if err != nil {
		o.logger.Warn("record transcript event", "type", typ, "session_id", string(s.ID), "error", err)
	}
}

// recordToolResult stores large outputs as artifacts and keeps a truncated
// excerpt in the transcript.
func (o *Orchestrator) recordToolResult(ctx context.Context, s *Session, r toolResult, content string) {
	payload := map[string]any{
		"tool":      r.call.Function.Name,
		"call_id":   r.call.ID,
		"result":    content,
		"execution": r.meta,
	}
	if o.artifacts != nil && len(content) > artifactThreshold {
		id, err := o.artifacts.Put(ctx, s.ID, s.RunID, r.call.Function.Name, content)
		if err == nil {
			payload["artifact_id"] = string(id)
			payload["result"] = cut(content, artifactThreshold) + "\n[truncated, see artifact " + string(id) + "]"
		} else {
			o.logger.Warn("store artifact", "tool", r.call.Function.Name, "error", err)
		}
	}
	o.record(ctx, s, types.EventToolResult, "runtime", payload)
}

func source(s *Session) string {
	if s.Request.Source != "" {
		return s.Request.Source
	}
	return "api"
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cut(s, n) + "..."
}

// cut returns the longest prefix of s no longer than n bytes that does not
// split a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
