package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/internal/upstream"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// BraveSearch searches the web via the Brave Search API.
type BraveSearch struct {
	client  *upstream.Client
	apiKey  string
	baseURL string
}

// NewBraveSearch creates a Brave Search client.
func NewBraveSearch(client *upstream.Client, apiKey string) *BraveSearch {
	return &BraveSearch{client: client, apiKey: apiKey, baseURL: braveSearchURL}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search returns up to count results for query. A zero policy uses the
// client default.
func (b *BraveSearch) Search(ctx context.Context, tool, query string, count int, policy resilience.RetryPolicy) ([]JinaDocument, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(clamp(count, 5, 20)))

	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("X-Subscription-Token", b.apiKey)

	var result braveResponse
	_, err := b.client.DoJSON(ctx, upstream.Request{
		Tool:    tool,
		Service: "brave",
		URL:     b.baseURL + "?" + q.Encode(),
		Header:  h,
		Policy:  policy,
	}, &result)
	if err != nil {
		return nil, err
	}

	out := make([]JinaDocument, 0, len(result.Web.Results))
	for _, r := range result.Web.Results {
		out = append(out, JinaDocument{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return out, nil
}

// BraveTool exposes Brave Search directly to the model.
type BraveTool struct{ brave *BraveSearch }

func NewBraveTool(b *BraveSearch) *BraveTool { return &BraveTool{brave: b} }

func (t *BraveTool) Name() string        { return "brave_search" }
func (t *BraveTool) Description() string { return "Search the web using Brave Search" }
func (t *BraveTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"count": {"type": "integer", "description": "Number of results (default: 5, max: 20)"}
		},
		"required": ["query"]
	}`)
}

func (t *BraveTool) Execute(ctx context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("query", params.Query); err != nil {
		return "", err
	}

	results, err := t.brave.Search(ctx, t.Name(), params.Query, params.Count, resilience.RetryPolicy{})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	return sb.String(), nil
}
