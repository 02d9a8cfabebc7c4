package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/internal/upstream"
)

var languageCode = regexp.MustCompile(`^[a-z]{2,3}(-[a-z]+)?$`)

// Wikipedia searches Wikipedia and summarises the best match.
type Wikipedia struct {
	client *upstream.Client
	// endpoint returns the site root for a language code.
	endpoint func(lang string) string
}

func NewWikipedia(client *upstream.Client) *Wikipedia {
	return &Wikipedia{
		client:   client,
		endpoint: func(lang string) string { return "https://" + lang + ".wikipedia.org" },
	}
}

func (w *Wikipedia) Name() string        { return "search_wikipedia" }
func (w *Wikipedia) Description() string { return "Search Wikipedia for comprehensive information" }
func (w *Wikipedia) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Topic to look up"},
			"language": {"type": "string", "description": "Wikipedia language code (default: en)"},
			"sentences": {"type": "integer", "description": "Sentences of summary to return (default: 3)"}
		},
		"required": ["query"]
	}`)
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type wikiSummary struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (w *Wikipedia) Execute(ctx context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Query     string `json:"query"`
		Language  string `json:"language"`
		Sentences int    `json:"sentences"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("query", params.Query); err != nil {
		return "", err
	}
	if params.Language == "" {
		params.Language = "en"
	}
	if !languageCode.MatchString(params.Language) {
		return fmt.Sprintf("Unsupported Wikipedia language code: %s", params.Language), nil
	}
	sentences := clamp(params.Sentences, 3, 10)
	root := w.endpoint(params.Language)

	q := url.Values{}
	q.Set("action", "query")
	q.Set("list", "search")
	q.Set("srsearch", params.Query)
	q.Set("srlimit", "5")
	q.Set("format", "json")
	var search wikiSearchResponse
	if _, err := w.client.DoJSON(ctx, upstream.Request{
		Tool:    w.Name(),
		Service: "wikipedia",
		URL:     root + "/w/api.php?" + q.Encode(),
	}, &search); err != nil {
		return "", err
	}
	if len(search.Query.Search) == 0 {
		return fmt.Sprintf("No Wikipedia results found for '%s'", params.Query), nil
	}

	titles := make([]string, len(search.Query.Search))
	for i, s := range search.Query.Search {
		titles[i] = s.Title
	}
	var page wikiSummary
	if _, err := w.client.DoJSON(ctx, upstream.Request{
		Tool:    w.Name(),
		Service: "wikipedia",
		URL:     root + "/api/rest_v1/page/summary/" + url.PathEscape(strings.ReplaceAll(titles[0], " ", "_")),
	}, &page); err != nil {
		return "", err
	}

	if page.Type == "disambiguation" {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Multiple Wikipedia pages found for '%s':\n", params.Query)
		for _, t := range titles {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
		return sb.String(), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wikipedia: %s\n\n", page.Title)
	fmt.Fprintf(&sb, "Summary:\n%s\n\n", firstSentences(page.Extract, sentences))
	if page.ContentURLs.Desktop.Page != "" {
		fmt.Fprintf(&sb, "URL: %s\n\n", page.ContentURLs.Desktop.Page)
	}
	if len(titles) > 1 {
		fmt.Fprintf(&sb, "Related articles: %s", strings.Join(titles[1:], ", "))
	}
	return strings.TrimSpace(sb.String()), nil
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	ends := sentenceEnd.FindAllStringIndex(text, n)
	if len(ends) < n {
		return text
	}
	return strings.TrimSpace(text[:ends[n-1][0]+1])
}
