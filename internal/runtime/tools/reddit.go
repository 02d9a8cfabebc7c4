package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/internal/upstream"
)

const redditURL = "https://www.reddit.com"

var (
	redditSorts   = []string{"relevance", "hot", "top", "new", "comments"}
	subredditName = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)
)

// Reddit searches public Reddit posts through the JSON listing API.
type Reddit struct {
	client  *upstream.Client
	baseURL string
}

func NewReddit(client *upstream.Client) *Reddit {
	return &Reddit{client: client, baseURL: redditURL}
}

func (r *Reddit) Name() string        { return "search_reddit" }
func (r *Reddit) Description() string { return "Search Reddit for discussions and community insights" }
func (r *Reddit) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"subreddit": {"type": "string", "description": "Restrict the search to one subreddit"},
			"sort": {"type": "string", "enum": ["relevance", "hot", "top", "new", "comments"], "description": "Sort order (default: relevance)"},
			"limit": {"type": "integer", "description": "Number of posts (default: 10, max: 25)"}
		},
		"required": ["query"]
	}`)
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title       string `json:"title"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
	Subreddit   string `json:"subreddit"`
	Permalink   string `json:"permalink"`
	Selftext    string `json:"selftext"`
}

func (r *Reddit) Execute(ctx context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Query     string `json:"query"`
		Subreddit string `json:"subreddit"`
		Sort      string `json:"sort"`
		Limit     int    `json:"limit"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("query", params.Query); err != nil {
		return "", err
	}
	if !oneOf(params.Sort, redditSorts) {
		params.Sort = "relevance"
	}
	params.Subreddit = strings.TrimPrefix(params.Subreddit, "r/")
	if params.Subreddit != "" && !subredditName.MatchString(params.Subreddit) {
		return fmt.Sprintf("Invalid subreddit name: %s", params.Subreddit), nil
	}
	limit := clamp(params.Limit, 10, 25)

	q := url.Values{}
	q.Set("q", params.Query)
	q.Set("sort", params.Sort)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := r.baseURL + "/search.json"
	if params.Subreddit != "" {
		endpoint = r.baseURL + "/r/" + params.Subreddit + "/search.json"
		q.Set("restrict_sr", "on")
	}

	var listing redditListing
	if _, err := r.client.DoJSON(ctx, upstream.Request{
		Tool:    r.Name(),
		Service: "reddit",
		URL:     endpoint + "?" + q.Encode(),
	}, &listing); err != nil {
		return "", err
	}

	posts := listing.Data.Children
	if len(posts) == 0 {
		return fmt.Sprintf("No Reddit posts found for '%s'", params.Query), nil
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Reddit Search Results for '%s':**\n\n", params.Query)
	if params.Subreddit != "" {
		fmt.Fprintf(&sb, "Searching in r/%s\n\n", params.Subreddit)
	}
	for i, c := range posts {
		p := c.Data
		fmt.Fprintf(&sb, "**%d. %s**\n", i+1, p.Title)
		fmt.Fprintf(&sb, "%d upvotes, %d comments\n", p.Score, p.NumComments)
		fmt.Fprintf(&sb, "r/%s\n", p.Subreddit)
		if p.Selftext != "" {
			fmt.Fprintf(&sb, "%s\n", excerpt(p.Selftext, 200))
		}
		if p.Permalink != "" {
			fmt.Fprintf(&sb, "https://reddit.com%s\n", p.Permalink)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
