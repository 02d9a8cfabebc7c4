// Package api serves the orchestrator over HTTP: blocking and streaming
// chat, tool discovery, health, metrics and session transcripts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/metatron/internal/gateway"
	"github.com/user/metatron/internal/runtime"
	"github.com/user/metatron/internal/state"
	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
)

const (
	userHeader        = "X-User-ID"
	maxBodyBytes      = 1 << 20
	defaultEventLimit = 200
)

// Toolbox exposes the tool selection a request would be offered.
type Toolbox interface {
	Deps(req *types.ChatRequest) *types.Deps
	Registry() *runtime.Registry
}

// SessionLister enumerates stored transcripts.
type SessionLister interface {
	List(ctx context.Context) ([]state.SessionSummary, error)
}

// Options configures a Server. Zero values disable the matching feature.
type Options struct {
	// Provider names the configured model provider for the health report.
	Provider string
	// Configured reports which optional integrations are set up.
	Configured map[string]bool
	// Metrics serves GET /metrics.
	Metrics http.Handler
	// Events serves session transcripts.
	Events types.EventStore
	// Sessions serves the transcript index.
	Sessions SessionLister
	Throttle *Throttle
	Logger   *slog.Logger
}

// Server is the HTTP front end of the orchestrator.
type Server struct {
	gw      *gateway.Gateway
	toolbox Toolbox
	opts    Options
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer creates a Server that submits chat requests through gw.
func NewServer(gw *gateway.Gateway, toolbox Toolbox, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		gw:      gw,
		toolbox: toolbox,
		opts:    opts,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /orchestrator/health", s.handleHealth)
	s.mux.Handle("POST /orchestrator/chat", s.throttled(s.handleChat))
	s.mux.Handle("POST /orchestrator/chat/stream", s.throttled(s.handleChatStream))
	s.mux.HandleFunc("GET /orchestrator/tools", s.handleTools)
	s.mux.HandleFunc("POST /orchestrator/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}
	s.handler = logRequests(logger, s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) throttled(fn http.HandlerFunc) http.Handler {
	if s.opts.Throttle == nil {
		return fn
	}
	return s.opts.Throttle.Middleware(fn)
}

type healthResponse struct {
	Status     string          `json:"status"`
	Provider   string          `json:"provider"`
	Configured map[string]bool `json:"configured"`
	Lanes      int             `json:"lanes"`
	Timestamp  string          `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	configured := s.opts.Configured
	if configured == nil {
		configured = map[string]bool{}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "healthy",
		Provider:   s.opts.Provider,
		Configured: configured,
		Lanes:      s.gw.Queue.Lanes(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeChat reads and validates a chat request body.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (*types.ChatRequest, bool) {
	var req types.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return nil, false
	}
	req.UserID = strings.TrimSpace(r.Header.Get(userHeader))
	req.Source = "http"
	return &req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	resp, err := s.gw.Do(r.Context(), req, nil)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	sse := stream.NewSSEWriter(w)
	run, err := s.gw.Submit(r.Context(), req, sse)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	if _, err := run.Wait(); err != nil && run.Status() == gateway.RunStatusCancelled {
		// client went away; nothing more to write
		return
	}
	if err := sse.Close(); err != nil {
		s.logger.Debug("stream close failed", "run_id", string(run.ID), "error", err)
	}
}

// writeRunError maps admission and session failures to HTTP responses.
func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *runtime.SessionError
	switch {
	case errors.Is(err, gateway.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "too many requests in flight, please retry shortly")
	case errors.Is(err, gateway.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	case r.Context().Err() != nil:
		s.logger.Debug("client disconnected", "path", r.URL.Path, "error", err)
	case errors.As(err, &serr):
		writeError(w, http.StatusInternalServerError, serr.UserMessage)
	default:
		s.logger.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type toolsResponse struct {
	Workspace string     `json:"workspace"`
	Tools     []toolInfo `json:"tools"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	req := &types.ChatRequest{Workspace: r.URL.Query().Get("workspace")}
	if v, _ := strconv.ParseBool(r.URL.Query().Get("deep_research")); v {
		req.Context = map[string]any{"deep_research": true}
	}
	deps := s.toolbox.Deps(req)
	reg := s.toolbox.Registry()

	seen := make(map[string]bool)
	out := toolsResponse{Workspace: deps.Workspace, Tools: []toolInfo{}}
	for _, name := range reg.Select(deps) {
		if seen[name] {
			continue
		}
		seen[name] = true
		if t, ok := reg.Get(name); ok {
			out.Tools = append(out.Tools, toolInfo{Name: t.Name, Description: t.Description})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "reset",
		"message": "Conversation history is supplied by the client; there is no server-side memory to clear.",
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "transcripts not configured")
		return
	}
	sessions, err := s.opts.Sessions.List(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if sessions == nil {
		sessions = []state.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "transcripts not configured")
		return
	}
	sessionID := types.SessionID(r.PathValue("id"))

	limit := defaultEventLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.opts.Events.Tail(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, state.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		s.logger.Error("tail events failed", "session_id", string(sessionID), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
