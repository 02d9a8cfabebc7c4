package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/types"
)

const maxListedSources = 10

var researchEffort = map[string]string{
	"quick":    "low",
	"standard": "medium",
	"deep":     "high",
}

// DeepResearch runs a Jina DeepSearch query.
type DeepResearch struct {
	jina *Jina
}

func NewDeepResearch(j *Jina) *DeepResearch { return &DeepResearch{jina: j} }

func (d *DeepResearch) Name() string { return "deep_research" }
func (d *DeepResearch) Description() string {
	return "Perform comprehensive web research with iterative reasoning. Only use this tool when deep research mode is enabled."
}
func (d *DeepResearch) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The research question or topic"},
			"sources": {"type": "array", "items": {"type": "string"}, "description": "Preferred domains or URLs"},
			"depth": {"type": "string", "enum": ["quick", "standard", "deep"], "description": "Research depth (default: standard)"}
		},
		"required": ["query"]
	}`)
}
func (d *DeepResearch) Policy() resilience.RetryPolicy { return resilience.ResearchRetryPolicy() }

func (d *DeepResearch) Execute(ctx context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Query   string   `json:"query"`
		Sources []string `json:"sources"`
		Depth   string   `json:"depth"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("query", params.Query); err != nil {
		return "", err
	}
	if !d.jina.Configured() {
		return "Deep research is not configured in this deployment. Answer from general knowledge or use another search tool.", nil
	}
	effort, ok := researchEffort[params.Depth]
	if !ok {
		params.Depth = "standard"
		effort = researchEffort["standard"]
	}

	start := time.Now()
	res, err := d.jina.DeepSearch(ctx, d.Name(), params.Query, effort, domains(params.Sources), d.Policy())
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Deep Research Results**\n\n")
	fmt.Fprintf(&sb, "**Query:** %s\n**Depth:** %s\n**Execution Time:** %.2fs\n", params.Query, params.Depth, time.Since(start).Seconds())
	fmt.Fprintf(&sb, "**URLs Visited:** %d\n**URLs Read:** %d\n\n---\n\n", len(res.VisitedURLs), len(res.ReadURLs))
	sb.WriteString(strings.TrimSpace(res.Content))
	if len(res.ReadURLs) > 0 {
		sb.WriteString("\n\n---\n\n**Sources Consulted:**\n")
		for i, u := range res.ReadURLs {
			if i == maxListedSources {
				fmt.Fprintf(&sb, "... and %d more sources\n", len(res.ReadURLs)-maxListedSources)
				break
			}
			fmt.Fprintf(&sb, "- %s\n", u)
		}
	}
	return sb.String(), nil
}

// domains reduces URLs to their host; bare domains pass through.
func domains(sources []string) []string {
	var out []string
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, "http") {
			if u, err := url.Parse(s); err == nil && u.Host != "" {
				s = u.Host
			}
		}
		out = append(out, s)
	}
	return out
}

var timeKeywords = []string{"current", "latest", "recent", "today", "now"}

// NanoSearch answers factual questions from a web search, preferring Jina
// and falling back to Brave.
type NanoSearch struct {
	jina  *Jina
	brave *BraveSearch
	now   func() time.Time
}

// NewNanoSearch creates the search tool. brave may be nil.
func NewNanoSearch(j *Jina, brave *BraveSearch) *NanoSearch {
	return &NanoSearch{jina: j, brave: brave, now: time.Now}
}

func (n *NanoSearch) Name() string { return "nano_perplexity_search" }
func (n *NanoSearch) Description() string {
	return "Search the web for current or specific information and return cited sources"
}
func (n *NanoSearch) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"search_depth": {"type": "string", "enum": ["quick", "standard", "deep"], "description": "How many sources to consult (default: standard)"}
		},
		"required": ["query"]
	}`)
}

// Policy is the retry policy for both search backends.
func (n *NanoSearch) Policy() resilience.RetryPolicy { return resilience.ResearchRetryPolicy() }

var searchDepthResults = map[string]int{"quick": 3, "standard": 5, "deep": 8}

func (n *NanoSearch) Execute(ctx context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Query       string `json:"query"`
		SearchDepth string `json:"search_depth"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("query", params.Query); err != nil {
		return "", err
	}
	limit, ok := searchDepthResults[params.SearchDepth]
	if !ok {
		limit = searchDepthResults["standard"]
	}
	query := n.reformulate(params.Query)

	var results []JinaDocument
	switch {
	case n.jina.Configured():
		docs, err := n.jina.Search(ctx, n.Name(), query, limit, n.Policy())
		if err != nil {
			return "", err
		}
		results = docs
	case n.brave != nil:
		docs, err := n.brave.Search(ctx, n.Name(), query, limit, n.Policy())
		if err != nil {
			return "", err
		}
		results = docs
	default:
		return "Web search is not configured in this deployment.", nil
	}

	if len(results) == 0 {
		return fmt.Sprintf("No search results found for '%s'.", params.Query), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for '%s':\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n", i+1, r.Title, r.URL)
		text := r.Description
		if text == "" {
			text = r.Content
		}
		if text != "" {
			fmt.Fprintf(&sb, "%s\n", excerpt(text, 600))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Cite sources using [number](url) format.")
	return sb.String(), nil
}

// reformulate pins time-sensitive queries to the current year.
func (n *NanoSearch) reformulate(query string) string {
	lower := strings.ToLower(query)
	year := fmt.Sprint(n.now().Year())
	if strings.Contains(lower, year) {
		return query
	}
	for _, w := range strings.Fields(lower) {
		if oneOf(strings.Trim(w, "?!.,;:"), timeKeywords) {
			return query + " " + year
		}
	}
	return query
}
