package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/upstream"
)

// JinaService is the limiter key and breaker name shared by every Jina call.
const JinaService = "jina"

const (
	jinaReaderURL     = "https://r.jina.ai/"
	jinaSearchURL     = "https://s.jina.ai/"
	jinaDeepSearchURL = "https://deepsearch.jina.ai/v1/chat/completions"
)

// Jina is a client for the Jina reader, search and DeepSearch APIs.
type Jina struct {
	client        *upstream.Client
	apiKey        string
	readerURL     string
	searchURL     string
	deepSearchURL string
}

// NewJina creates a Jina client. The reader works without a key; search and
// DeepSearch need one.
func NewJina(client *upstream.Client, apiKey string) *Jina {
	return &Jina{
		client:        client,
		apiKey:        apiKey,
		readerURL:     jinaReaderURL,
		searchURL:     jinaSearchURL,
		deepSearchURL: jinaDeepSearchURL,
	}
}

// Configured reports whether an API key is set.
func (j *Jina) Configured() bool { return j != nil && j.apiKey != "" }

// JinaDocument is one page returned by the reader or search API.
type JinaDocument struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

func (j *Jina) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if j.apiKey != "" {
		h.Set("Authorization", "Bearer "+j.apiKey)
	}
	return h
}

// Read fetches target through the reader API as markdown. A zero policy
// uses the client default, here and in Search and DeepSearch.
func (j *Jina) Read(ctx context.Context, tool, target string, policy resilience.RetryPolicy) (JinaDocument, error) {
	h := j.header()
	h.Set("X-Return-Format", "markdown")
	var out struct {
		Data JinaDocument `json:"data"`
	}
	_, err := j.client.DoJSON(ctx, upstream.Request{
		Tool:    tool,
		Service: JinaService,
		URL:     j.readerURL + target,
		Header:  h,
		Policy:  policy,
	}, &out)
	if err != nil {
		return JinaDocument{}, err
	}
	return out.Data, nil
}

// Search runs a web search and returns at most limit results.
func (j *Jina) Search(ctx context.Context, tool, query string, limit int, policy resilience.RetryPolicy) ([]JinaDocument, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("num", strconv.Itoa(limit))
	}
	var out struct {
		Data []JinaDocument `json:"data"`
	}
	_, err := j.client.DoJSON(ctx, upstream.Request{
		Tool:    tool,
		Service: JinaService,
		URL:     j.searchURL + "?" + q.Encode(),
		Header:  j.header(),
		Policy:  policy,
	}, &out)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out.Data) > limit {
		out.Data = out.Data[:limit]
	}
	return out.Data, nil
}

// DeepSearchResult is the answer of a DeepSearch run.
type DeepSearchResult struct {
	Content     string
	VisitedURLs []string
	ReadURLs    []string
	TotalTokens int
}

type deepSearchRequest struct {
	Model           string              `json:"model"`
	Messages        []map[string]string `json:"messages"`
	Stream          bool                `json:"stream"`
	ReasoningEffort string              `json:"reasoning_effort"`
	GoodDomains     []string            `json:"good_domains,omitempty"`
}

type deepSearchResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	VisitedURLs []string `json:"visitedURLs"`
	ReadURLs    []string `json:"readURLs"`
}

// DeepSearch runs an iterative research query. effort is low, medium or
// high; domains restricts the sources consulted.
func (j *Jina) DeepSearch(ctx context.Context, tool, query, effort string, domains []string, policy resilience.RetryPolicy) (DeepSearchResult, error) {
	body, err := json.Marshal(deepSearchRequest{
		Model:           "jina-deepsearch-v1",
		Messages:        []map[string]string{{"role": "user", "content": query}},
		ReasoningEffort: effort,
		GoodDomains:     domains,
	})
	if err != nil {
		return DeepSearchResult{}, fmt.Errorf("encode deepsearch request: %w", err)
	}

	var out deepSearchResponse
	_, err = j.client.DoJSON(ctx, upstream.Request{
		Tool:    tool,
		Service: JinaService,
		Method:  http.MethodPost,
		URL:     j.deepSearchURL,
		Header:  j.header(),
		Body:    body,
		Policy:  policy,
	}, &out)
	if err != nil {
		return DeepSearchResult{}, err
	}
	if len(out.Choices) == 0 {
		return DeepSearchResult{}, fmt.Errorf("deepsearch: empty response")
	}
	return DeepSearchResult{
		Content:     out.Choices[0].Message.Content,
		VisitedURLs: out.VisitedURLs,
		ReadURLs:    out.ReadURLs,
		TotalTokens: out.Usage.TotalTokens,
	}, nil
}
