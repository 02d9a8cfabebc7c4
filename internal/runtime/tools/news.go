package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/internal/upstream"
)

const googleNewsURL = "https://news.google.com/rss/search"

var htmlTag = regexp.MustCompile(`<[^<]+?>`)

// News searches Google News through its RSS feed.
type News struct {
	client  *upstream.Client
	baseURL string
}

func NewNews(client *upstream.Client) *News {
	return &News{client: client, baseURL: googleNewsURL}
}

func (n *News) Name() string        { return "research_news" }
func (n *News) Description() string { return "Get the latest news on a specific topic" }
func (n *News) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "News topic"},
			"category": {"type": "string", "description": "Optional news category"},
			"language": {"type": "string", "description": "Language code (default: en)"},
			"limit": {"type": "integer", "description": "Number of articles (default: 10, max: 25)"}
		},
		"required": ["query"]
	}`)
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

func (n *News) Execute(ctx context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Query    string `json:"query"`
		Category string `json:"category"`
		Language string `json:"language"`
		Limit    int    `json:"limit"`
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
	limit := clamp(params.Limit, 10, 25)

	q := url.Values{}
	q.Set("q", params.Query)
	q.Set("hl", params.Language)
	q.Set("gl", "US")
	q.Set("ceid", "US:en")
	body, _, err := n.client.Do(ctx, upstream.Request{
		Tool:    n.Name(),
		Service: "news",
		URL:     n.baseURL + "?" + q.Encode(),
	})
	if err != nil {
		return "", err
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return "", resilience.Permanent(fmt.Errorf("parse news feed: %w", err))
	}
	items := feed.Channel.Items
	if len(items) == 0 {
		return fmt.Sprintf("No news articles found for '%s'", params.Query), nil
	}
	if len(items) > limit {
		items = items[:limit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Latest News for '%s':**\n\n", params.Query)
	if params.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n\n", params.Category)
	}
	for i, it := range items {
		fmt.Fprintf(&sb, "**%d. %s**\n", i+1, strings.TrimSpace(it.Title))
		if desc := stripHTML(it.Description); desc != "" {
			fmt.Fprintf(&sb, "%s\n", excerpt(desc, 200))
		}
		if it.PubDate != "" {
			fmt.Fprintf(&sb, "Published: %s\n", it.PubDate)
		}
		fmt.Fprintf(&sb, "%s\n\n", strings.TrimSpace(it.Link))
	}
	return strings.TrimSpace(sb.String()), nil
}

func stripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(s, "")))
}
