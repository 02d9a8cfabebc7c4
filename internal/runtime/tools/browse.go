package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/internal/upstream"
)

const (
	maxPageChars    = 50000
	pagePreviewSize = 1500
)

var browseActions = []string{"navigate", "extract_text"}

// BrowseWeb reads a web page as markdown. Pages go through the Jina reader
// when it is configured and are fetched and converted locally otherwise.
type BrowseWeb struct {
	client *upstream.Client
	jina   *Jina
}

func NewBrowseWeb(client *upstream.Client, j *Jina) *BrowseWeb {
	return &BrowseWeb{client: client, jina: j}
}

func (b *BrowseWeb) Name() string        { return "browse_web" }
func (b *BrowseWeb) Description() string { return "Open a web page and return its content as markdown" }
func (b *BrowseWeb) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to open"},
			"action": {"type": "string", "enum": ["navigate", "extract_text"], "description": "navigate returns a preview, extract_text the full page (default: navigate)"}
		},
		"required": ["url"]
	}`)
}

func (b *BrowseWeb) Policy() resilience.RetryPolicy { return resilience.QuickRetryPolicy() }

func (b *BrowseWeb) Execute(ctx context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		URL    string `json:"url"`
		Action string `json:"action"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("url", params.URL); err != nil {
		return "", err
	}
	if params.Action == "" {
		params.Action = "navigate"
	}
	if !oneOf(params.Action, browseActions) {
		return fmt.Sprintf("Unsupported browser action: %s. Supported actions: %s", params.Action, strings.Join(browseActions, ", ")), nil
	}
	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		params.URL = "https://" + params.URL
	}

	title, md, err := b.read(ctx, params.URL)
	if err != nil {
		return "", err
	}
	if len(md) > maxPageChars {
		md = cut(md, maxPageChars) + "\n\n[Content truncated]"
	}
	if params.Action == "navigate" {
		return fmt.Sprintf("Navigated to %s\nTitle: %s\nContent preview:\n%s", params.URL, title, excerpt(md, pagePreviewSize)), nil
	}
	return fmt.Sprintf("Text extracted from %s:\n\n%s", params.URL, md), nil
}

func (b *BrowseWeb) read(ctx context.Context, target string) (string, string, error) {
	if b.jina.Configured() {
		doc, err := b.jina.Read(ctx, b.Name(), target, b.Policy())
		if err != nil {
			return "", "", err
		}
		return doc.Title, doc.Content, nil
	}

	body, _, err := b.client.Do(ctx, upstream.Request{
		Tool:    b.Name(),
		Service: "web",
		URL:     target,
		Policy:  b.Policy(),
	})
	if err != nil {
		return "", "", err
	}
	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", "", fmt.Errorf("convert to markdown: %w", err)
	}
	return pageTitle(md), md, nil
}

// pageTitle returns the first markdown heading, if any.
func pageTitle(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return "Untitled"
}
