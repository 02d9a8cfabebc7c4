package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/metatron/internal/gateway"
	"github.com/user/metatron/internal/observability"
	"github.com/user/metatron/internal/runtime"
	"github.com/user/metatron/internal/state"
	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
)

type processorFunc func(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error)

func (f processorFunc) Run(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
	return f(ctx, req, sink)
}

type fakeToolbox struct {
	registry *runtime.Registry
}

func (f fakeToolbox) Deps(req *types.ChatRequest) *types.Deps {
	return &types.Deps{Workspace: req.WorkspaceOrDefault(), DeepResearch: req.DeepResearch()}
}

func (f fakeToolbox) Registry() *runtime.Registry { return f.registry }

func testRegistry(t *testing.T) *runtime.Registry {
	t.Helper()
	b := runtime.NewBuilder()
	noop := func(context.Context, *types.Deps, json.RawMessage) (string, error) { return "", nil }
	for _, name := range []string{"search_memory", "browse_web", "search_wikipedia", "deep_research"} {
		if err := b.Register(name, "does "+name, nil, noop); err != nil {
			t.Fatal(err)
		}
	}
	return b.Build()
}

func setupServer(t *testing.T, proc processorFunc, opts Options) *Server {
	t.Helper()
	gw := gateway.New(proc, 2, nil)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return NewServer(gw, fakeToolbox{registry: testRegistry(t)}, opts)
}

func echoProcessor(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
	asm := stream.NewAssembler(sink)
	if err := asm.Status(ctx, "initializing", 10); err != nil {
		return nil, err
	}
	if err := asm.Text(ctx, "echo: "+req.Message, nil); err != nil {
		return nil, err
	}
	resp := &types.ChatResponse{
		Response:    "echo: " + req.Message + " from " + req.UserID + " via " + req.Source,
		Workspace:   req.WorkspaceOrDefault(),
		AgentStatus: "completed",
		ContentType: types.ContentText,
	}
	if err := asm.Complete(ctx, map[string]any{"response": resp}); err != nil {
		return nil, err
	}
	return resp, nil
}

func TestHealthEndpoints(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{
		Provider:   "gemini",
		Configured: map[string]bool{"jina": true, "brave": false},
	})

	for _, path := range []string{"/health", "/orchestrator/health"} {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var resp healthResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != "healthy" || resp.Provider != "gemini" {
			t.Errorf("%s: unexpected health %+v", path, resp)
		}
		if !resp.Configured["jina"] || resp.Configured["brave"] {
			t.Errorf("%s: unexpected configured flags %v", path, resp.Configured)
		}
		if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
			t.Errorf("%s: timestamp not RFC3339: %v", path, err)
		}
	}
}

func TestChat(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{})

	body := `{"message":"hello","workspace":"research"}`
	req := httptest.NewRequest(http.MethodPost, "/orchestrator/chat", strings.NewReader(body))
	req.Header.Set(userHeader, "u-1")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Response != "echo: hello from u-1 via http" {
		t.Errorf("unexpected response %q", resp.Response)
	}
	if resp.Workspace != "research" {
		t.Errorf("expected research workspace, got %q", resp.Workspace)
	}
}

func TestChatValidation(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid JSON"},
		{"empty message", `{"message":"   "}`, "message is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orchestrator/chat", strings.NewReader(tt.body)))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["error"] != tt.want {
				t.Errorf("expected error %q, got %q", tt.want, resp["error"])
			}
		})
	}
}

func TestChatSessionErrorShowsUserMessage(t *testing.T) {
	srv := setupServer(t, func(context.Context, *types.ChatRequest, stream.Sink) (*types.ChatResponse, error) {
		return nil, &runtime.SessionError{
			State:       runtime.StateDispatching,
			UserMessage: "The AI service is temporarily unavailable.",
			Err:         errors.New("secret upstream detail"),
		}
	}, Options{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orchestrator/chat", strings.NewReader(`{"message":"hi"}`)))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("raw error leaked to client")
	}
	if !strings.Contains(w.Body.String(), "temporarily unavailable") {
		t.Errorf("expected user message, got %s", w.Body.String())
	}
}

func TestChatStream(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orchestrator/chat/stream", strings.NewReader(`{"message":"hi"}`)))

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream, got %q", ct)
	}
	if !strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n") {
		t.Errorf("stream not terminated: %q", w.Body.String())
	}
	chunks, err := stream.DecodeAll(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	want := []stream.Type{stream.TypeStatus, stream.TypeText, stream.TypeComplete}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if c.Type != want[i] {
			t.Errorf("chunk %d: expected %s, got %s", i, want[i], c.Type)
		}
	}
}

func TestChatStreamSessionError(t *testing.T) {
	srv := setupServer(t, func(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
		asm := stream.NewAssembler(sink)
		asm.Status(ctx, "initializing", 10)
		asm.Error(ctx, "Something went wrong.")
		return nil, &runtime.SessionError{State: runtime.StateDispatching, UserMessage: "Something went wrong.", Err: errors.New("boom")}
	}, Options{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orchestrator/chat/stream", strings.NewReader(`{"message":"hi"}`)))

	chunks, err := stream.DecodeAll(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[1].Type != stream.TypeError {
		t.Fatalf("expected status then error, got %+v", chunks)
	}
}

func TestToolsEndpoint(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orchestrator/tools?workspace=research", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp toolsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Workspace != "research" {
		t.Errorf("expected research, got %q", resp.Workspace)
	}
	var names []string
	for _, tool := range resp.Tools {
		names = append(names, tool.Name)
	}
	want := "deep_research,search_wikipedia,search_memory,browse_web"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestResetEndpoint(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orchestrator/reset", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "reset" {
		t.Errorf("expected reset status, got %v", resp)
	}
}

func TestSessionEvents(t *testing.T) {
	events := state.NewEventStore(t.TempDir())
	ctx := context.Background()
	for _, typ := range []string{types.EventUserMessage, types.EventAssistantMessage} {
		ev := &types.Event{
			ID:        types.NewEventID(),
			SessionID: "s-1",
			Type:      typ,
			Source:    "test",
			At:        time.Now(),
			Payload:   json.RawMessage(`{}`),
		}
		if err := events.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	srv := setupServer(t, echoProcessor, Options{Events: events, Sessions: events})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 listing sessions, got %d", w.Code)
	}
	var sessions []state.SessionSummary
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s-1" || sessions[0].Events != 2 {
		t.Errorf("unexpected sessions %+v", sessions)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/events?limit=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []types.Event
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != types.EventAssistantMessage {
		t.Errorf("expected last event only, got %+v", got)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/a%5Cb/events", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id, got %d", w.Code)
	}
}

func TestSessionEventsNotConfigured(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/events", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.RecordToolExecution("browse_web", "success", 0.2)
	srv := setupServer(t, echoProcessor, Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "browse_web") {
		t.Error("expected tool metric in exposition")
	}
}

func TestChatThrottled(t *testing.T) {
	srv := setupServer(t, echoProcessor, Options{Throttle: NewThrottle(0.5, 1)})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orchestrator/chat", strings.NewReader(`{"message":"hi"}`))
		req.Header.Set(userHeader, "busy")
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		return w
	}
	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "2" {
		t.Errorf("expected Retry-After 2, got %q", w.Header().Get("Retry-After"))
	}

	// health is never throttled
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health throttled: %d", rec.Code)
	}
}
