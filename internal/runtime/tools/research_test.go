package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/metatron/internal/types"
)

func TestDeepResearchCallsDeepSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer jina-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var req deepSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.ReasoningEffort != "high" {
			t.Errorf("expected high effort for deep, got %q", req.ReasoningEffort)
		}
		if len(req.GoodDomains) != 2 || req.GoodDomains[0] != "arxiv.org" || req.GoodDomains[1] != "nature.com" {
			t.Errorf("unexpected domains %v", req.GoodDomains)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices":     []any{map[string]any{"message": map[string]string{"content": "Fusion is progressing."}}},
			"usage":       map[string]int{"total_tokens": 1200},
			"visitedURLs": []string{"https://a", "https://b"},
			"readURLs":    []string{"https://a"},
		})
	}))
	defer server.Close()

	j := NewJina(newTestClient(), "jina-key")
	j.deepSearchURL = server.URL
	out, err := NewDeepResearch(j).Execute(context.Background(), &types.Deps{}, mustArgs(t, map[string]any{
		"query":   "fusion energy",
		"sources": []string{"https://arxiv.org/list", "nature.com"},
		"depth":   "deep",
	}))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Fusion is progressing.", "**Depth:** deep", "**URLs Visited:** 2", "- https://a"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestDeepResearchNotConfigured(t *testing.T) {
	out, err := NewDeepResearch(NewJina(newTestClient(), "")).Execute(context.Background(), &types.Deps{},
		mustArgs(t, map[string]string{"query": "x"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "not configured") {
		t.Errorf("expected not configured note, got %q", out)
	}
}

func TestNanoSearchPrefersJina(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "latest go release 2026" {
			t.Errorf("expected reformulated query, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{
			{"title": "Go 1.26", "url": "https://go.dev/blog", "description": "Release notes"},
		}})
	}))
	defer server.Close()

	j := NewJina(newTestClient(), "k")
	j.searchURL = server.URL + "/"
	n := NewNanoSearch(j, nil)
	n.now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }

	out, err := n.Execute(context.Background(), &types.Deps{}, mustArgs(t, map[string]string{"query": "latest go release"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[1] Go 1.26") || !strings.Contains(out, "https://go.dev/blog") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNanoSearchFallsBackToBrave(t *testing.T) {
	server := braveServer(t, map[string]string{"title": "Brave hit", "url": "https://b.example", "description": "d"})
	defer server.Close()

	b := NewBraveSearch(newTestClient(), "test-key")
	b.baseURL = server.URL
	out, err := NewNanoSearch(NewJina(newTestClient(), ""), b).Execute(context.Background(), &types.Deps{},
		mustArgs(t, map[string]string{"query": "go"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Brave hit") {
		t.Errorf("expected brave result, got %q", out)
	}
}

func TestNanoSearchUnconfigured(t *testing.T) {
	out, err := NewNanoSearch(NewJina(newTestClient(), ""), nil).Execute(context.Background(), &types.Deps{},
		mustArgs(t, map[string]string{"query": "go"}))
	if err != nil || !strings.Contains(out, "not configured") {
		t.Errorf("expected not configured note, got %q, %v", out, err)
	}
}

func TestReformulateOnlyTimeSensitive(t *testing.T) {
	n := NewNanoSearch(nil, nil)
	n.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	tests := map[string]string{
		"what is the latest news?": "what is the latest news? 2026",
		"things I know":            "things I know",
		"news today 2026":          "news today 2026",
	}
	for in, want := range tests {
		if got := n.reformulate(in); got != want {
			t.Errorf("reformulate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBrowseWebLocalFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Hello</h1><p>World paragraph</p></body></html>`))
	}))
	defer server.Close()

	b := NewBrowseWeb(newTestClient(), NewJina(newTestClient(), ""))
	out, err := b.Execute(context.Background(), &types.Deps{}, mustArgs(t, map[string]string{"url": server.URL, "action": "extract_text"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "# Hello") || !strings.Contains(out, "World paragraph") {
		t.Errorf("expected markdown content, got %q", out)
	}
}

func TestBrowseWebViaJinaReader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/https://example.com") {
			t.Errorf("unexpected reader path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"title": "Example", "content": "Example body"}})
	}))
	defer server.Close()

	j := NewJina(newTestClient(), "k")
	j.readerURL = server.URL + "/"
	out, err := NewBrowseWeb(newTestClient(), j).Execute(context.Background(), &types.Deps{}, mustArgs(t, map[string]string{"url": "example.com"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Title: Example") || !strings.Contains(out, "Example body") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestBrowseWebRejectsUnknownAction(t *testing.T) {
	out, err := NewBrowseWeb(newTestClient(), nil).Execute(context.Background(), &types.Deps{},
		mustArgs(t, map[string]string{"url": "https://x", "action": "screenshot"}))
	if err != nil || !strings.Contains(out, "Unsupported browser action") {
		t.Errorf("unexpected result %q, %v", out, err)
	}
}
